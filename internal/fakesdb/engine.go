package fakesdb

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sblgo/sbl/internal/rand"
	"github.com/sblgo/sbl/pkg/connection"
	"github.com/sblgo/sbl/pkg/sqladapter"
)

// Engine is a tiny in-memory interpreter for the SurrealQL statements the
// toolkit itself issues. It understands:
//
//	CREATE table[:id] [SET field = value, ...]
//	SELECT * FROM table[:id]
//	DELETE table[:id]
//	DEFINE TABLE name ...
//	REMOVE TABLE name
//	INFO FOR DB
//	RETURN value
//
// Values are 'strings', "strings", numbers, true, false, NONE, NULL,
// time::now() and $variables. Anything else is answered with an ERR status.
type Engine struct {
	mu  sync.Mutex
	dbs map[string]*database
}

type database struct {
	defined map[string]string
	tables  map[string]map[string]map[string]any
}

func NewEngine() *Engine {
	return &Engine{dbs: make(map[string]*database)}
}

// Execute runs every statement of sql in the ns/db scope.
func (e *Engine) Execute(ns, db, sql string, vars map[string]any) []connection.QueryResult[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := ns + "/" + db
	d, ok := e.dbs[key]
	if !ok {
		d = &database{
			defined: make(map[string]string),
			tables:  make(map[string]map[string]map[string]any),
		}
		e.dbs[key] = d
	}

	stmts := sqladapter.Split(sql)
	results := make([]connection.QueryResult[any], 0, len(stmts))
	for _, stmt := range stmts {
		start := time.Now()
		result, err := d.execute(stmt, vars)

		res := connection.QueryResult[any]{
			Status: connection.StatusOK,
			Result: result,
		}
		if err != nil {
			res.Status = connection.StatusErr
			res.Result = err.Error()
		}
		res.Time = time.Since(start).String()
		results = append(results, res)
	}

	return results
}

// Records returns a copy of every record of table in ns/db, sorted by id.
func (e *Engine) Records(ns, db, table string) []map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.dbs[ns+"/"+db]
	if !ok {
		return nil
	}
	return d.selectAll(table)
}

var (
	identPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	recordPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(?::([A-Za-z0-9_]+))?$`)
)

//nolint:gocyclo
func (d *database) execute(stmt string, vars map[string]any) (any, error) {
	keyword, rest := cutWord(stmt)

	switch strings.ToUpper(keyword) {
	case "CREATE":
		return d.create(rest, vars)
	case "SELECT":
		fields, rest := cutWord(rest)
		from, target := cutWord(rest)
		if fields != "*" || !strings.EqualFold(from, "FROM") {
			return nil, parseError(stmt)
		}
		table, id, err := parseTarget(target)
		if err != nil {
			return nil, err
		}
		if id == "" {
			return d.selectAll(table), nil
		}
		if rec, ok := d.tables[table][id]; ok {
			return []map[string]any{copyRecord(rec)}, nil
		}
		return []map[string]any{}, nil
	case "DELETE":
		table, id, err := parseTarget(rest)
		if err != nil {
			return nil, err
		}
		if id == "" {
			delete(d.tables, table)
		} else {
			delete(d.tables[table], id)
		}
		return []map[string]any{}, nil
	case "DEFINE":
		kind, rest := cutWord(rest)
		name, _ := cutWord(rest)
		if !strings.EqualFold(kind, "TABLE") || !identPattern.MatchString(name) {
			return nil, parseError(stmt)
		}
		d.defined[name] = stmt
		return nil, nil
	case "REMOVE":
		kind, name := cutWord(rest)
		if !strings.EqualFold(kind, "TABLE") || !identPattern.MatchString(name) {
			return nil, parseError(stmt)
		}
		if _, ok := d.defined[name]; !ok {
			return nil, fmt.Errorf("The table '%s' does not exist", name)
		}
		delete(d.defined, name)
		delete(d.tables, name)
		return nil, nil
	case "INFO":
		if !strings.EqualFold(rest, "FOR DB") {
			return nil, parseError(stmt)
		}
		tables := make(map[string]any, len(d.defined))
		for name, def := range d.defined {
			tables[name] = def
		}
		return map[string]any{"tables": tables}, nil
	case "RETURN":
		return parseValue(rest, vars)
	default:
		return nil, parseError(stmt)
	}
}

func (d *database) create(rest string, vars map[string]any) (any, error) {
	target, assignments := rest, ""
	if i := indexFold(rest, " SET "); i >= 0 {
		target, assignments = rest[:i], rest[i+len(" SET "):]
	}

	table, id, err := parseTarget(target)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = strings.ToLower(rand.NewRequestID(20))
	}

	records, ok := d.tables[table]
	if !ok {
		records = make(map[string]map[string]any)
		d.tables[table] = records
	}
	recordID := table + ":" + id
	if _, exists := records[id]; exists {
		return nil, fmt.Errorf("Database record `%s` already exists", recordID)
	}

	rec := map[string]any{"id": recordID}
	if strings.TrimSpace(assignments) != "" {
		for _, assignment := range splitOutsideQuotes(assignments, ',') {
			field, expr, found := strings.Cut(assignment, "=")
			field = strings.TrimSpace(field)
			if !found || !identPattern.MatchString(field) {
				return nil, parseError(assignment)
			}
			v, err := parseValue(strings.TrimSpace(expr), vars)
			if err != nil {
				return nil, err
			}
			rec[field] = v
		}
	}

	records[id] = rec
	return []map[string]any{copyRecord(rec)}, nil
}

func (d *database) selectAll(table string) []map[string]any {
	records := d.tables[table]
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })

	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyRecord(records[id]))
	}
	return out
}

func parseTarget(target string) (table, id string, err error) {
	target = strings.TrimSpace(target)
	m := recordPattern.FindStringSubmatch(target)
	if m == nil {
		return "", "", parseError(target)
	}
	return m[1], m[2], nil
}

func parseValue(expr string, vars map[string]any) (any, error) {
	switch {
	case expr == "":
		return nil, parseError(expr)
	case strings.EqualFold(expr, "NONE"), strings.EqualFold(expr, "NULL"):
		return nil, nil
	case strings.EqualFold(expr, "true"):
		return true, nil
	case strings.EqualFold(expr, "false"):
		return false, nil
	case strings.EqualFold(expr, "time::now()"):
		return time.Now().UTC().Format(time.RFC3339Nano), nil
	case expr[0] == '$':
		return vars[expr[1:]], nil
	case len(expr) >= 2 && (expr[0] == '\'' || expr[0] == '"') && expr[len(expr)-1] == expr[0]:
		return unescape(expr[1 : len(expr)-1]), nil
	}

	if n, err := strconv.ParseInt(expr, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(expr, 64); err == nil {
		return f, nil
	}
	return nil, parseError(expr)
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func parseError(near string) error {
	return fmt.Errorf("Parse error: Failed to parse query at `%s`", near)
}

// cutWord splits s at the first space.
func cutWord(s string) (word, rest string) {
	s = strings.TrimSpace(s)
	word, rest, _ = strings.Cut(s, " ")
	return word, strings.TrimSpace(rest)
}

func indexFold(s, substr string) int {
	return strings.Index(strings.ToUpper(s), strings.ToUpper(substr))
}

func splitOutsideQuotes(s string, sep byte) []string {
	var (
		parts []string
		quote byte
		start int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// lessID orders numeric ids numerically and everything else lexically.
func lessID(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}

func copyRecord(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
