package core

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	reIdentifier   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	reTableUnsafe  = regexp.MustCompile(`[^A-Za-z0-9_]`)
	reFileUnsafe   = regexp.MustCompile(`(?i)[^a-z0-9\-_.]`)
	reUnderscores  = regexp.MustCompile(`_+`)
	reLeadingAlpha = regexp.MustCompile(`^[A-Za-z]`)
)

// IsSafeIdentifier reports whether s can be spliced into SQL as a bare name.
func IsSafeIdentifier(s string) bool {
	return reIdentifier.MatchString(s)
}

// TableNameFromFile derives a table name from an uploaded file name.
func TableNameFromFile(fileName string) string {
	base := filepath.Base(strings.ReplaceAll(fileName, `\`, "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	name := reTableUnsafe.ReplaceAllString(base, "_")
	if !reLeadingAlpha.MatchString(name) {
		name = "tbl_" + name
	}
	return name
}

// SanitizeTableName strips characters that cannot appear in a bracketed name.
func SanitizeTableName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer("[", "", "]", "", ";", "", "'", "", `"`, "").Replace(name)
	return name
}

const maxFileBaseLen = 120

// SanitizeFileBase makes s safe as a download file name stem.
func SanitizeFileBase(s string) string {
	s = reFileUnsafe.ReplaceAllString(s, "_")
	s = reUnderscores.ReplaceAllString(s, "_")
	if len(s) > maxFileBaseLen {
		s = s[:maxFileBaseLen]
	}
	if s == "" {
		return "report"
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
