package kuzudb

import (
	"context"
	"fmt"
	"strings"

	"github.com/t-kawata/myweave/pkg/weaver/promptsec"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"github.com/t-kawata/myweave/pkg/weaver/werrs"
)

// EntityHit は、Entityベクトル検索の1件の結果です。
type EntityHit struct {
	ID       string
	Name     string
	NodeType string
	Score    float64
}

// VectorSearchChunks は、埋め込みのコサイン類似度が高い順にチャンクを返します。
func (s *GraphStorage) VectorSearchChunks(ctx context.Context, vector []float32, topK int) ([]types.RetrievedChunk, error) {
	vecStr, err := formatVector(vector, s.dimensions)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		MATCH (c:Chunk)
		WHERE c.embedding IS NOT NULL
		RETURN c.id, c.document_id, c.text, array_cosine_similarity(c.embedding, %s) AS score
		ORDER BY score DESC
		LIMIT %d
	`, vecStr, topK)

	result, err := s.conn.Query(query)
	if err != nil {
		return nil, werrs.Transient(err)
	}
	defer result.Close()

	var chunks []types.RetrievedChunk
	for result.HasNext() {
		row, err := result.Next()
		if err != nil {
			return nil, werrs.Transient(err)
		}
		chunk := types.RetrievedChunk{Source: "vector"}
		if v, _ := row.GetValue(0); v != nil {
			chunk.ChunkID = s.getString(v)
		}
		if v, _ := row.GetValue(1); v != nil {
			chunk.DocumentID = s.getString(v)
		}
		if v, _ := row.GetValue(2); v != nil {
			chunk.Text = s.getString(v)
		}
		if v, _ := row.GetValue(3); v != nil {
			chunk.Score = s.getFloat64(v)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// VectorSearchEntities は、埋め込みのコサイン類似度が高い順にEntityを返します。
// nodeType が空でない場合、候補はそのタイプに限定されます。タイプ文字列は
// サニタイズ済みのプロパティ値としてのみ使用されます。
func (s *GraphStorage) VectorSearchEntities(ctx context.Context, vector []float32, topK int, nodeType string) ([]EntityHit, error) {
	vecStr, err := formatVector(vector, s.dimensions)
	if err != nil {
		return nil, err
	}
	typeFilter := ""
	if nodeType != "" {
		sanitized := promptsec.SanitizeEntityType(nodeType)
		typeFilter = fmt.Sprintf(" AND e.node_type = '%s'", escapeString(sanitized))
	}
	query := fmt.Sprintf(`
		MATCH (e:Entity)
		WHERE e.embedding IS NOT NULL%s
		RETURN e.id, e.name, e.node_type, array_cosine_similarity(e.embedding, %s) AS score
		ORDER BY score DESC
		LIMIT %d
	`, typeFilter, vecStr, topK)

	result, err := s.conn.Query(query)
	if err != nil {
		return nil, werrs.Transient(err)
	}
	defer result.Close()

	var hits []EntityHit
	for result.HasNext() {
		row, err := result.Next()
		if err != nil {
			return nil, werrs.Transient(err)
		}
		var hit EntityHit
		if v, _ := row.GetValue(0); v != nil {
			hit.ID = s.getString(v)
		}
		if v, _ := row.GetValue(1); v != nil {
			hit.Name = s.getString(v)
		}
		if v, _ := row.GetValue(2); v != nil {
			hit.NodeType = s.getString(v)
		}
		if v, _ := row.GetValue(3); v != nil {
			hit.Score = s.getFloat64(v)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// ChunksMentioningEntities は、指定Entity群のいずれかを言及するチャンクを返します。
func (s *GraphStorage) ChunksMentioningEntities(ctx context.Context, entityIDs []string, limit int) ([]types.RetrievedChunk, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		MATCH (c:Chunk)-[:MENTIONS]->(e:Entity)
		WHERE e.id IN [%s]
		RETURN DISTINCT c.id, c.document_id, c.text
		LIMIT %d
	`, formatStringList(entityIDs), limit)

	return s.queryChunks(query, "graph")
}

// ExpandNeighbors は、指定Entity群から1ホップの RELATES 関係を返します。
func (s *GraphStorage) ExpandNeighbors(ctx context.Context, entityIDs []string, limit int) ([]types.GraphPathSegment, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		MATCH (a:Entity)-[r:RELATES]->(b:Entity)
		WHERE a.id IN [%s] OR b.id IN [%s]
		RETURN a.name, r.type, b.name
		LIMIT %d
	`, formatStringList(entityIDs), formatStringList(entityIDs), limit)

	return s.querySegments(query)
}

// ShortestPathSegments は、名前に fromName / toName を含むEntity間の
// 最短パス（3ホップ以内）を返します。パスが存在しない場合は空を返します。
func (s *GraphStorage) ShortestPathSegments(ctx context.Context, fromName, toName string) ([]types.GraphPathSegment, []string, error) {
	query := fmt.Sprintf(`
		MATCH p = (a:Entity)-[:RELATES* SHORTEST 1..3]-(b:Entity)
		WHERE a.name CONTAINS '%s' AND b.name CONTAINS '%s'
		RETURN nodes(p), rels(p)
		LIMIT 1
	`, escapeString(fromName), escapeString(toName))

	result, err := s.conn.Query(query)
	if err != nil {
		return nil, nil, werrs.Transient(err)
	}
	defer result.Close()

	if !result.HasNext() {
		return nil, nil, nil
	}
	row, err := result.Next()
	if err != nil {
		return nil, nil, werrs.Transient(err)
	}

	nodesVal, _ := row.GetValue(0)
	relsVal, _ := row.GetValue(1)
	names, ids := s.parsePathNodes(nodesVal)
	relTypes := s.parsePathRelTypes(relsVal)

	var segments []types.GraphPathSegment
	for i := 0; i+1 < len(names); i++ {
		relType := "RELATES"
		if i < len(relTypes) && relTypes[i] != "" {
			relType = relTypes[i]
		}
		segments = append(segments, types.GraphPathSegment{
			SourceName: names[i],
			Type:       relType,
			TargetName: names[i+1],
		})
	}
	return segments, ids, nil
}

// MitigatingControls は、(Risk)<-[MITIGATES]-(Control) パターンで
// リスク名に合致するEntityを軽減するEntity群を返します。
func (s *GraphStorage) MitigatingControls(ctx context.Context, riskName string, limit int) ([]types.GraphPathSegment, []string, error) {
	query := fmt.Sprintf(`
		MATCH (control:Entity)-[r:RELATES]->(risk:Entity)
		WHERE r.type = 'MITIGATES' AND risk.name CONTAINS '%s'
		RETURN control.name, r.type, risk.name, control.id
		LIMIT %d
	`, escapeString(riskName), limit)

	result, err := s.conn.Query(query)
	if err != nil {
		return nil, nil, werrs.Transient(err)
	}
	defer result.Close()

	var segments []types.GraphPathSegment
	var controlIDs []string
	for result.HasNext() {
		row, err := result.Next()
		if err != nil {
			return nil, nil, werrs.Transient(err)
		}
		var seg types.GraphPathSegment
		if v, _ := row.GetValue(0); v != nil {
			seg.SourceName = s.getString(v)
		}
		if v, _ := row.GetValue(1); v != nil {
			seg.Type = s.getString(v)
		}
		if v, _ := row.GetValue(2); v != nil {
			seg.TargetName = s.getString(v)
		}
		if v, _ := row.GetValue(3); v != nil {
			controlIDs = append(controlIDs, s.getString(v))
		}
		segments = append(segments, seg)
	}
	return segments, controlIDs, nil
}

// FindEntitiesByName は、名前に needle を含むEntityを返します。
func (s *GraphStorage) FindEntitiesByName(ctx context.Context, needle string, limit int) ([]EntityHit, error) {
	query := fmt.Sprintf(`
		MATCH (e:Entity)
		WHERE e.name CONTAINS '%s'
		RETURN e.id, e.name, e.node_type
		LIMIT %d
	`, escapeString(needle), limit)

	result, err := s.conn.Query(query)
	if err != nil {
		return nil, werrs.Transient(err)
	}
	defer result.Close()

	var hits []EntityHit
	for result.HasNext() {
		row, err := result.Next()
		if err != nil {
			return nil, werrs.Transient(err)
		}
		var hit EntityHit
		if v, _ := row.GetValue(0); v != nil {
			hit.ID = s.getString(v)
		}
		if v, _ := row.GetValue(1); v != nil {
			hit.Name = s.getString(v)
		}
		if v, _ := row.GetValue(2); v != nil {
			hit.NodeType = s.getString(v)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// =================================================================================
// Internal query helpers
// =================================================================================

func (s *GraphStorage) queryChunks(query string, source string) ([]types.RetrievedChunk, error) {
	result, err := s.conn.Query(query)
	if err != nil {
		return nil, werrs.Transient(err)
	}
	defer result.Close()

	var chunks []types.RetrievedChunk
	for result.HasNext() {
		row, err := result.Next()
		if err != nil {
			return nil, werrs.Transient(err)
		}
		chunk := types.RetrievedChunk{Source: source}
		if v, _ := row.GetValue(0); v != nil {
			chunk.ChunkID = s.getString(v)
		}
		if v, _ := row.GetValue(1); v != nil {
			chunk.DocumentID = s.getString(v)
		}
		if v, _ := row.GetValue(2); v != nil {
			chunk.Text = s.getString(v)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func (s *GraphStorage) querySegments(query string) ([]types.GraphPathSegment, error) {
	result, err := s.conn.Query(query)
	if err != nil {
		return nil, werrs.Transient(err)
	}
	defer result.Close()

	var segments []types.GraphPathSegment
	for result.HasNext() {
		row, err := result.Next()
		if err != nil {
			return nil, werrs.Transient(err)
		}
		var seg types.GraphPathSegment
		if v, _ := row.GetValue(0); v != nil {
			seg.SourceName = s.getString(v)
		}
		if v, _ := row.GetValue(1); v != nil {
			seg.Type = s.getString(v)
		}
		if v, _ := row.GetValue(2); v != nil {
			seg.TargetName = s.getString(v)
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

// parsePathNodes は、nodes(p) の返却値からEntityの名前とIDを取り出します。
func (s *GraphStorage) parsePathNodes(v any) ([]string, []string) {
	items, ok := v.([]any)
	if !ok {
		return nil, nil
	}
	var names, ids []string
	for _, item := range items {
		props, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := props["name"].(string); ok {
			names = append(names, name)
		}
		if id, ok := props["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return names, ids
}

// parsePathRelTypes は、rels(p) の返却値から type プロパティを取り出します。
func (s *GraphStorage) parsePathRelTypes(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var relTypes []string
	for _, item := range items {
		props, ok := item.(map[string]any)
		if !ok {
			relTypes = append(relTypes, "")
			continue
		}
		if t, ok := props["type"].(string); ok {
			relTypes = append(relTypes, t)
		} else {
			relTypes = append(relTypes, "")
		}
	}
	return relTypes
}

// formatStringList は、IN 句用のエスケープ済み文字列リストを構築します。
func formatStringList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = "'" + escapeString(item) + "'"
	}
	return strings.Join(quoted, ", ")
}
