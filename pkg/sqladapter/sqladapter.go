// Package sqladapter normalizes SurrealQL text before it is sent.
//
// The normal form is every non-empty statement with comments removed and
// runs of whitespace collapsed to one space, joined by "; " and terminated
// by ";". Text inside quotes is left untouched.
package sqladapter

import (
	"os"
	"strings"
	"unicode"
)

// FromText normalizes a block of SurrealQL.
func FromText(sql string) string {
	stmts := Split(sql)
	if len(stmts) == 0 {
		return ""
	}
	return strings.Join(stmts, "; ") + ";"
}

// FromList normalizes a list of commands, each holding one or more statements.
func FromList(cmds []string) string {
	return FromText(strings.Join(cmds, ";"))
}

// FromFile normalizes the contents of a file.
func FromFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return FromText(string(data)), nil
}

// Split breaks sql into statements on semicolons outside quotes, dropping
// comments, collapsing whitespace and discarding empty statements.
//
//nolint:gocyclo
func Split(sql string) []string {
	var (
		stmts        []string
		cur          strings.Builder
		quote        rune
		pendingSpace bool
	)

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
		pendingSpace = false
	}
	write := func(r rune) {
		if pendingSpace && cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		pendingSpace = false
		cur.WriteRune(r)
	}

	runes := []rune(sql)
	next := func(i int) rune {
		if i+1 < len(runes) {
			return runes[i+1]
		}
		return 0
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if quote != 0 {
			cur.WriteRune(r)
			switch r {
			case '\\':
				if i+1 < len(runes) {
					i++
					cur.WriteRune(runes[i])
				}
			case quote:
				quote = 0
			}
			continue
		}

		switch {
		case r == '\'' || r == '"' || r == '`':
			write(r)
			quote = r
		case r == ';':
			flush()
		case r == '#', r == '-' && next(i) == '-', r == '/' && next(i) == '/':
			for i+1 < len(runes) && runes[i+1] != '\n' {
				i++
			}
			pendingSpace = true
		case r == '/' && next(i) == '*':
			i += 2
			for i < len(runes) && !(runes[i] == '*' && next(i) == '/') {
				i++
			}
			i++ // land on the closing '/'
			pendingSpace = true
		case unicode.IsSpace(r):
			pendingSpace = true
		default:
			write(r)
		}
	}
	flush()

	return stmts
}
