package main

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"homeserver/internal/config"
)

const maxCmdConstructorLines = 80

func TestCommandConstructorsStaySmall(t *testing.T) {
	fset := token.NewFileSet()

	for _, path := range commandSourceFiles(t) {
		file, err := parser.ParseFile(fset, path, nil, 0)
		if err != nil {
			t.Fatalf("parse %s: %v", path, err)
		}

		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Name == nil || fn.Body == nil {
				continue
			}
			if !strings.HasPrefix(fn.Name.Name, "new") || !strings.HasSuffix(fn.Name.Name, "Cmd") {
				continue
			}

			start := fset.Position(fn.Body.Lbrace).Line
			end := fset.Position(fn.Body.Rbrace).Line
			if length := end - start + 1; length > maxCmdConstructorLines {
				t.Fatalf("constructor %s in %s is too large: %d lines (max %d)",
					fn.Name.Name, filepath.Base(path), length, maxCmdConstructorLines)
			}
		}
	}
}

func TestCommandSurface(t *testing.T) {
	cfg := config.Default()
	var leaves []string
	var walk func(cmd *cobra.Command, prefix string)
	walk = func(cmd *cobra.Command, prefix string) {
		for _, child := range cmd.Commands() {
			name := strings.TrimSpace(prefix + " " + child.Name())
			if child.HasSubCommands() {
				walk(child, name)
				continue
			}
			if name != "help" && name != "completion" {
				leaves = append(leaves, name)
			}
		}
	}
	walk(newRootCmd(&cfg), "")
	slices.Sort(leaves)

	want := []string{
		"config get", "config path", "config set",
		"gc", "get", "keygen", "ls", "migrate", "put", "rm", "serve", "signup-token",
		"user disable", "user enable", "user show",
	}
	if !slices.Equal(leaves, want) {
		t.Fatalf("unexpected command surface\ngot:  %v\nwant: %v", leaves, want)
	}
}

func commandSourceFiles(t *testing.T) []string {
	t.Helper()
	_, self, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	dir := filepath.Dir(self)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read %s: %v", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	return files
}
