package create

import "encoding/base64"

// EncodeContent encodes file content for the wire.
func EncodeContent(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeContent decodes file content received from the wire. Content that is
// not valid base64 is returned unchanged with ok set to false.
func DecodeContent(content string) (data []byte, ok bool) {
	decoded, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return []byte(content), false
	}
	return decoded, true
}
