package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint computes the SHA-256 hex digest over the cache-relevant
// request fields (§3 Cache Entry): content, model id, max tokens,
// temperature, tools, and tool choice.
func Fingerprint(req Request) string {
	var b strings.Builder
	b.WriteString(req.Text())
	b.WriteByte('|')
	b.WriteString(req.ModelID)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(req.MaxTokens))
	b.WriteByte('|')
	if req.Temperature != nil {
		b.WriteString(strconv.FormatFloat(*req.Temperature, 'f', -1, 64))
	}
	b.WriteByte('|')
	b.WriteString(toolsFingerprint(req.Tools))
	b.WriteByte('|')
	if req.ToolChoice != nil {
		b.WriteString(string(req.ToolChoice.Mode))
		b.WriteByte(':')
		b.WriteString(req.ToolChoice.Name)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// CacheKey returns the shared-store key for a fingerprint (§6 Cache wire
// format): "router:<sha256-hex>".
func CacheKey(fingerprint string) string {
	return "router:" + fingerprint
}

func toolsFingerprint(tools []ToolDefinition) string {
	if len(tools) == 0 {
		return ""
	}
	names := make([]string, 0, len(tools))
	byName := make(map[string]ToolDefinition, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
		byName[t.Name] = t
	}
	sort.Strings(names)

	var b strings.Builder
	for i, n := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		t := byName[n]
		b.WriteString(n)
		b.WriteByte(':')
		params, _ := json.Marshal(t.Parameters)
		b.Write(params)
	}
	return b.String()
}
