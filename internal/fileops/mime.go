package fileops

import "strings"

// mimeTypes is a small extension-to-MIME-type table, enough for the
// common text/code/image kinds a sandbox session works with day to day.
var mimeTypes = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".json": "application/json",
	".yaml": "application/x-yaml",
	".yml":  "application/x-yaml",
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "text/javascript",
	".ts":   "text/typescript",
	".go":   "text/x-go",
	".py":   "text/x-python",
	".sh":   "text/x-shellscript",
	".csv":  "text/csv",
	".xml":  "application/xml",
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".zip":  "application/zip",
	".tar":  "application/x-tar",
	".gz":   "application/gzip",
}

const defaultMimeType = "application/octet-stream"

func mimeTypeForPath(path string) string {
	ext := extOf(path)
	if mt, ok := mimeTypes[ext]; ok {
		return mt
	}
	return defaultMimeType
}

func extOf(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		if path[i] == '.' {
			return strings.ToLower(path[i:])
		}
		i--
	}
	return ""
}

// looksBinary applies a heuristic over the first bytes of a file: the
// presence of a NUL byte, or a high ratio of non-printable bytes, marks
// the content as binary.
func looksBinary(sample []byte) bool {
	if len(sample) == 0 {
		return false
	}
	nonPrintable := 0
	for _, b := range sample {
		if b == 0 {
			return true
		}
		if b < 0x09 || (b > 0x0d && b < 0x20) {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(len(sample)) > 0.3
}
