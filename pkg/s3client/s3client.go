// Package s3client は、Weaverのブロブストレージを実装します。
// アップロードは {content_hash}_{safe_filename} 形式のキーで保存され、
// useLocal=true ならローカルディレクトリ、false なら S3 を使用します。
package s3client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/t-kawata/myweave/lib/common"
	"go.uber.org/zap"
)

// S3Client wraps an S3 client plus config for local storage.
type S3Client struct {
	client   *s3.Client
	bucket   string
	localDir string
	downDir  string
	useLocal bool
	logger   *zap.Logger
}

// NewS3Client creates a new S3Client with AWS SDK v2.
// Always initializes the S3 client for better flexibility and future extensibility.
func NewS3Client(accessKey, secretKey, region, bucket, localDir, downDir string, useLocal bool, logger *zap.Logger) (*S3Client, error) {
	if localDir == "" {
		return nil, errors.New("localDir is required")
	}
	if downDir == "" {
		return nil, errors.New("downDir is required")
	}

	if !useLocal {
		if accessKey == "" || secretKey == "" || region == "" || bucket == "" {
			return nil, errors.New("AWS credentials and bucket are required when useLocal is false")
		}
	} else {
		// In local mode, if AWS args are missing, use dummies to prevent initialization errors
		if accessKey == "" {
			accessKey = "dummy"
		}
		if secretKey == "" {
			secretKey = "dummy"
		}
		if region == "" {
			region = "us-east-1"
		}
		if bucket == "" {
			bucket = "dummy"
		}
	}

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Client{
		client:   s3.NewFromConfig(cfg),
		bucket:   bucket,
		localDir: localDir,
		downDir:  downDir,
		useLocal: useLocal,
		logger:   logger,
	}, nil
}

// MakeKey は、コンテンツハッシュとサニタイズ済みファイル名からストレージキーを構築します。
func MakeKey(contentHash, safeFilename string) string {
	return contentHash + "_" + safeFilename
}

// Up は、バイト列を指定キーで保存します。
// useLocal=true ならローカルディレクトリへ、false なら S3 へ書き込みます。
func (c *S3Client) Up(ctx context.Context, key string, data []byte) error {
	key = strings.TrimPrefix(key, "/")

	if c.useLocal {
		destPath := filepath.Join(c.localDir, key)
		if err := os.MkdirAll(filepath.Dir(destPath), os.ModePerm); err != nil {
			return err
		}
		return os.WriteFile(destPath, data, 0644)
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

// Down は、キーで指定したブロブをローカルキャッシュへ取得してパスを返します。
// 既にキャッシュ済みならそのパスを返します。
func (c *S3Client) Down(ctx context.Context, key string) (*string, error) {
	key = strings.TrimPrefix(key, "/")
	localFilePath := filepath.Join(c.localDir, key)
	toFilePath := filepath.Join(c.downDir, key)

	if _, err := os.Stat(toFilePath); err == nil {
		return &toFilePath, nil // 既にあるならパスを返して終わり
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Try local first
	inputFile, err := os.Open(localFilePath)
	if err == nil {
		defer inputFile.Close()
		if err := os.MkdirAll(filepath.Dir(toFilePath), 0755); err != nil {
			return nil, err
		}
		outputFile, err := os.Create(toFilePath)
		if err != nil {
			return nil, err
		}
		defer outputFile.Close()
		if _, err = io.Copy(outputFile, inputFile); err != nil {
			return nil, err
		}
		return &toFilePath, nil
	}

	if c.useLocal {
		return nil, fmt.Errorf("blob not found: %s", key)
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	output, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer output.Body.Close()

	if err := os.MkdirAll(filepath.Dir(toFilePath), 0755); err != nil {
		return nil, err
	}
	file, err := os.Create(toFilePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if _, err = io.Copy(file, output.Body); err != nil {
		return nil, err
	}
	return &toFilePath, nil
}

// Del は、キーで指定したブロブをローカルキャッシュ・ローカル保存・S3 から削除します。
func (c *S3Client) Del(ctx context.Context, key string) error {
	var localErr, s3Err error
	key = strings.TrimPrefix(key, "/")
	localFilePath := filepath.Join(c.localDir, key)
	downCachePath := filepath.Join(c.downDir, key)

	if _, err := os.Stat(downCachePath); err == nil {
		if err := os.Remove(downCachePath); err != nil {
			return fmt.Errorf("Failed to delete local down cache '%s': %w", downCachePath, err)
		}
	}

	if _, err := os.Stat(localFilePath); err == nil {
		localErr = os.Remove(localFilePath)
		if localErr != nil {
			c.logger.Warn("Failed to delete local blob", zap.String("path", localFilePath), zap.Error(localErr))
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		localErr = err
	}

	if !c.useLocal {
		ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()

		_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			_, s3Err = c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(c.bucket),
				Key:    aws.String(key),
			})
		} else {
			var apiErr smithy.APIError
			if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
				// S3上に存在しないので削除不要
				s3Err = nil
			} else {
				s3Err = err
			}
		}
	}

	if localErr != nil && s3Err != nil {
		return fmt.Errorf("Failed to delete blob locally and from S3: local error: %v, S3 error: %v", localErr, s3Err)
	} else if localErr != nil {
		return fmt.Errorf("Failed to delete blob locally: %v", localErr)
	} else if s3Err != nil {
		return fmt.Errorf("Failed to delete blob from S3: %v", s3Err)
	}
	return nil
}

// CleanupDownDir は、ダウンロードキャッシュのうち保持期間を過ぎたファイルを削除します。
func (c *S3Client) CleanupDownDir(retentionMinutes int) error {
	return common.WalkAndFindTimeoverFiles(c.downDir, retentionMinutes, func(filePath string, elapsedMinutes int) {
		if err := os.Remove(filePath); err != nil {
			c.logger.Warn("Failed to remove expired cache file",
				zap.String("path", filePath), zap.Int("elapsed_minutes", elapsedMinutes), zap.Error(err))
		}
	})
}
