package utils

import "strings"

// CleanJSON は、LLM応答からJSON本体を抽出します。
// マークダウンのコードフェンスや前後の説明文が付いていても、
// 最初の '{' から最後の '}' まで（配列の場合は '[' から ']' まで）を取り出します。
func CleanJSON(response string) string {
	response = strings.TrimSpace(response)

	// コードフェンスの除去
	if strings.HasPrefix(response, "```") {
		if idx := strings.Index(response, "\n"); idx >= 0 {
			response = response[idx+1:]
		}
		response = strings.TrimSuffix(strings.TrimSpace(response), "```")
		response = strings.TrimSpace(response)
	}

	objStart := strings.Index(response, "{")
	arrStart := strings.Index(response, "[")

	// 配列が先に始まる場合は配列として抽出
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		if end := strings.LastIndex(response, "]"); end > arrStart {
			return response[arrStart : end+1]
		}
	}
	if objStart >= 0 {
		if end := strings.LastIndex(response, "}"); end > objStart {
			return response[objStart : end+1]
		}
	}
	return response
}
