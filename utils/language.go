package utils

import (
	"regexp"
	"strings"
)

// LanguagePlainText is returned when no rule matches.
const LanguagePlainText = "plaintext"

type languageRule struct {
	language string
	match    func(title, code string) bool
}

var (
	goFuncRe     = regexp.MustCompile(`(?m)^func\s+(\(\w+\s+\*?\w+\)\s*)?\w+\(`)
	rustFnRe     = regexp.MustCompile(`\bfn\s+\w+\s*(<[^>]*>)?\(.*\)\s*(->|\{)`)
	pythonDefRe  = regexp.MustCompile(`(?m)^\s*(def|class)\s+\w+.*:\s*$`)
	sqlRe        = regexp.MustCompile(`(?is)\b(SELECT\b.+\bFROM|INSERT\s+INTO|CREATE\s+TABLE|UPDATE\s+\w+\s+SET|DELETE\s+FROM)\b`)
	yamlKeyRe    = regexp.MustCompile(`(?m)^[\w-]+:\s*\S*$`)
	cssRuleRe    = regexp.MustCompile(`(?m)^[.#]?[\w-]+(\s*[,>+~]?\s*[.#]?[\w-]+)*\s*\{[^}]*:[^}]*;`)
	markdownRe   = regexp.MustCompile(`(?m)^(#{1,6}\s|\s*[-*]\s\[[ x]\]|\x60\x60\x60)`)
	typeAnnotRe  = regexp.MustCompile(`\b(interface\s+\w+\s*\{|:\s*(string|number|boolean)\b|type\s+\w+\s*=)`)
	shellShebang = regexp.MustCompile(`^#!.*\b(ba|z|da)?sh\b`)
)

// extensions maps title suffixes to languages.
var extensions = map[string]string{
	".go":   "go",
	".rs":   "rust",
	".py":   "python",
	".js":   "javascript",
	".mjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".java": "java",
	".c":    "cpp",
	".cc":   "cpp",
	".cpp":  "cpp",
	".h":    "cpp",
	".html": "html",
	".css":  "css",
	".sql":  "sql",
	".json": "json",
	".md":   "markdown",
	".php":  "php",
	".rb":   "ruby",
	".sh":   "shell",
	".yaml": "yaml",
	".yml":  "yaml",
}

// Rules run in order; more distinctive markers come first.
var languageRules = []languageRule{
	{"php", func(_, c string) bool { return strings.Contains(c, "<?php") }},
	{"shell", func(_, c string) bool { return shellShebang.MatchString(c) }},
	{"html", func(_, c string) bool {
		lc := strings.ToLower(c)
		return strings.Contains(lc, "<!doctype html") || strings.Contains(lc, "<html")
	}},
	{"go", func(_, c string) bool {
		return strings.Contains(c, "package ") && (goFuncRe.MatchString(c) || strings.Contains(c, "import ("))
	}},
	{"rust", func(_, c string) bool {
		return rustFnRe.MatchString(c) || strings.Contains(c, "let mut ") || strings.Contains(c, "println!(")
	}},
	{"java", func(_, c string) bool {
		return strings.Contains(c, "public class") || strings.Contains(c, "public static void main")
	}},
	{"cpp", func(_, c string) bool {
		return strings.Contains(c, "#include") || strings.Contains(c, "int main(") || strings.Contains(c, "std::")
	}},
	{"json", func(_, c string) bool {
		t := strings.TrimSpace(c)
		return (strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}")) ||
			(strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]"))
	}},
	{"python", func(_, c string) bool {
		return pythonDefRe.MatchString(c) || strings.Contains(c, "if __name__ ==") ||
			(strings.Contains(c, "import ") && !strings.Contains(c, ";") && !strings.Contains(c, " from '") && !strings.Contains(c, " from \""))
	}},
	{"typescript", func(_, c string) bool {
		return typeAnnotRe.MatchString(c) && (strings.Contains(c, "const ") || strings.Contains(c, "function ") ||
			strings.Contains(c, "import ") || strings.Contains(c, "export "))
	}},
	{"javascript", func(_, c string) bool {
		return strings.Contains(c, "function ") || strings.Contains(c, "=>") ||
			strings.Contains(c, "const ") || strings.Contains(c, "let ") || strings.Contains(c, "console.log")
	}},
	{"ruby", func(_, c string) bool {
		return strings.Contains(c, "puts ") || (strings.Contains(c, "def ") && strings.Contains(c, "\nend"))
	}},
	{"sql", func(_, c string) bool { return sqlRe.MatchString(c) }},
	{"css", func(_, c string) bool { return cssRuleRe.MatchString(c) }},
	{"markdown", func(_, c string) bool { return markdownRe.MatchString(c) }},
	{"yaml", func(_, c string) bool {
		lines := strings.Count(strings.TrimSpace(c), "\n") + 1
		return lines > 1 && len(yamlKeyRe.FindAllString(c, -1))*2 >= lines
	}},
}

// DetectLanguage makes a best-effort guess at the language of a snippet,
// using a file extension in the title first and content markers second.
// The result is a hint for display only.
func DetectLanguage(title, content string) string {
	if dot := strings.LastIndexByte(title, '.'); dot >= 0 {
		if lang, ok := extensions[strings.ToLower(strings.TrimSpace(title[dot:]))]; ok {
			return lang
		}
	}
	for _, rule := range languageRules {
		if rule.match(title, content) {
			return rule.language
		}
	}
	return LanguagePlainText
}
