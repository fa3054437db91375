package meta

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	entityRe = regexp.MustCompile(`^entity\s+(\w+):`)
	fieldRe  = regexp.MustCompile(`^\s*([\w_]+):\s*([^\s#]+)?(.*)$`)
	refRe    = regexp.MustCompile(`^ref\[([A-Za-z0-9_]+)\]$`)
	linkRe   = regexp.MustCompile(`^link\[([A-Za-z0-9_]+)\]$`)
)

// директивы уровня сущности; эти имена нельзя использовать как имена полей
var directives = map[string]struct{}{
	"mode": {}, "pk": {}, "ref_label": {}, "user_field": {}, "roles": {},
}

// parse: options tokenizer — делит "k=v k2='v 2'" на токены,
// не рвёт по пробелам внутри кавычек
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
			buf = append(buf, r)
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
			buf = append(buf, r)
		default:
			if (r == ' ' || r == '\t') && !inSingle && !inDouble {
				flush()
				continue
			}
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

// LoadSchemas читает один .dsl-файл и возвращает список схем.
//
//	entity user:
//	  mode: crud
//	  pk: email
//	  ref_label: email
//	  roles: admin:*, member:cru:profile
//	  email: email required
//	  role: ref[role] delete_mode=keep view=admin
//	  role_name: link[role]
func LoadSchemas(path string) ([]Schema, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var schemas []Schema
	var current *Schema

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// entity <Name>:
		if m := entityRe.FindStringSubmatch(line); m != nil {
			if current != nil {
				schemas = append(schemas, *current)
			}
			current = &Schema{Name: m[1], Read: true} // чтение включено по умолчанию
			continue
		}
		if current == nil {
			// игнорируем всё вне сущности
			continue
		}

		m := fieldRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("%s:%d: cannot parse line %q", path, lineNo, line)
		}
		name := m[1]
		rawType := m[2]
		tail := strings.TrimSpace(m[3])

		// срезать комментарий из хвоста
		if i := strings.IndexByte(tail, '#'); i >= 0 {
			tail = strings.TrimSpace(tail[:i])
		}

		// директивы уровня сущности
		if _, isDir := directives[name]; isDir {
			value := strings.TrimSpace(rawType + " " + tail)
			if err := applyDirective(current, name, value); err != nil {
				return nil, fmt.Errorf("%s:%d: %v", path, lineNo, err)
			}
			continue
		}

		f := Field{Name: name}
		switch {
		case rawType == "":
			return nil, fmt.Errorf("%s:%d: field %q has no type", path, lineNo, name)
		case refRe.MatchString(rawType):
			f.Ref = refRe.FindStringSubmatch(rawType)[1]
		case linkRe.MatchString(rawType):
			f.Link = linkRe.FindStringSubmatch(rawType)[1]
		default:
			f.Type = rawType
		}

		for _, tok := range splitOptionTokens(tail) {
			if err := applyFieldOption(&f, tok); err != nil {
				return nil, fmt.Errorf("%s:%d: field %q: %v", path, lineNo, name, err)
			}
		}
		current.Fields = append(current.Fields, f)
	}
	if current != nil {
		schemas = append(schemas, *current)
	}
	return schemas, scanner.Err()
}

func applyDirective(s *Schema, name, value string) error {
	switch name {
	case "mode":
		s.Create, s.Read, s.Update, s.Delete = false, false, false, false
		s.Clone, s.Import, s.Export = false, false, false
		for _, ch := range value {
			switch ch {
			case 'c':
				s.Create = true
			case 'r':
				s.Read = true
			case 'u':
				s.Update = true
			case 'd':
				s.Delete = true
			case 'o':
				s.Clone = true
			case 'i':
				s.Import = true
			case 'e':
				s.Export = true
			case ' ':
			default:
				return fmt.Errorf("unknown mode char %q (allowed: crudoie)", string(ch))
			}
		}
	case "pk":
		s.PrimaryKeys = splitCSV(value)
	case "ref_label":
		s.RefLabel = value
	case "user_field":
		s.UserField = value
	case "roles":
		s.Roles = splitCSV(value)
	}
	return nil
}

// applyFieldOption разбирает одну опцию поля. Незнакомые атрибуты — ошибка,
// а не молчаливый пропуск: опечатка в схеме должна валить старт.
func applyFieldOption(f *Field, tok string) error {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return nil
	}
	key := strings.ToLower(tok)
	val := ""
	if i := strings.IndexByte(tok, '='); i >= 0 {
		key = strings.ToLower(strings.TrimSpace(tok[:i]))
		val = strings.TrimSpace(tok[i+1:])
		val = strings.Trim(val, `"'`)
	}

	off := false
	on := true
	boolFlag := func(target **bool) error {
		switch strings.ToLower(val) {
		case "false":
			*target = &off
		case "", "true":
			*target = &on
		default:
			return fmt.Errorf("option %s: want true/false, got %q", key, val)
		}
		return nil
	}

	switch key {
	case "required":
		f.Required = true
	case "sys":
		f.Sys = true
	case "secure":
		f.Secure = true
	case "default":
		f.Default = val
	case "delete_mode":
		f.DeleteMode = strings.ToLower(val)
	case "group":
		f.Group = val
	case "view":
		for _, v := range strings.Split(val, "|") {
			if v = strings.TrimSpace(v); v != "" {
				f.View = append(f.View, v)
			}
		}
	case "create":
		return boolFlag(&f.Create)
	case "list":
		return boolFlag(&f.List)
	case "search":
		return boolFlag(&f.Search)
	case "update":
		return boolFlag(&f.Update)
	case "clone":
		return boolFlag(&f.Clone)
	default:
		return fmt.Errorf("unknown attribute %q", key)
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadDir обходит каталог, парсит все *.dsl файлы и возвращает схемы.
func LoadDir(root string) ([]Schema, error) {
	var result []Schema
	seen := map[string]string{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".dsl") {
			return nil
		}
		schemas, err := LoadSchemas(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, s := range schemas {
			if prev, dup := seen[s.Name]; dup {
				return fmt.Errorf("duplicate entity %q (files: %s, %s)", s.Name, prev, path)
			}
			seen[s.Name] = path
			result = append(result, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
