package utils

import "testing"

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		content string
		want    string
	}{
		{"go", "", "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"hi\")\n}", "go"},
		{"python", "", "def greet(name):\n    return f\"hi {name}\"\n", "python"},
		{"rust", "", "fn main() {\n    let mut x = 5;\n    println!(\"{}\", x);\n}", "rust"},
		{"java", "", "public class Hello {\n  public static void main(String[] args) {}\n}", "java"},
		{"cpp", "", "#include <iostream>\nint main() { std::cout << 1; }", "cpp"},
		{"json", "", `{"key": [1, 2]}`, "json"},
		{"html", "", "<!DOCTYPE html>\n<html><body></body></html>", "html"},
		{"sql", "", "SELECT id, title FROM snippets WHERE expires_at < now();", "sql"},
		{"javascript", "", "const add = (a, b) => a + b;\nconsole.log(add(1, 2));", "javascript"},
		{"typescript", "", "interface User {\n  name: string;\n}\nconst u: User = { name: \"a\" };", "typescript"},
		{"shell", "", "#!/bin/bash\necho hello", "shell"},
		{"php", "", "<?php echo 'hi'; ?>", "php"},
		{"ruby", "", "def hello\n  puts 'hi'\nend", "ruby"},
		{"markdown", "", "# Title\n\nSome text\n- item", "markdown"},
		{"yaml", "", "name: quickbin\nversion: 1\nport: 8080", "yaml"},
		{"plain text", "", "hello world, this is just text", LanguagePlainText},
		{"empty", "", "", LanguagePlainText},
		{"extension wins", "main.go", "hello", "go"},
		{"extension case insensitive", "Notes.MD", "hello", "markdown"},
		{"unknown extension falls through", "data.xyz", "{\"a\": 1}", "json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectLanguage(tt.title, tt.content); got != tt.want {
				t.Errorf("DetectLanguage(%q, %q) = %q, want %q", tt.title, tt.content, got, tt.want)
			}
		})
	}
}
