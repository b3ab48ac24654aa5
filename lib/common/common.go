package common

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"
)

func CalculateSHA256(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ディレクトリを再帰的に走査して、指定した時間を経過しているファイルだけ callback に渡す
func WalkAndFindTimeoverFiles(rootDirPath string, minutes int, callback func(filePath string, elapsedMinutes int)) error {
	cutoff := time.Now().Add(-time.Duration(minutes) * time.Minute)
	now := time.Now()
	return filepath.Walk(rootDirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			if info.ModTime().Before(cutoff) {
				elapsed := int(now.Sub(info.ModTime()).Minutes())
				callback(path, elapsed)
			}
		}
		return nil
	})
}
