package store

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Memory — документное хранилище в памяти: map коллекция -> id -> документ.
// Подходит для тестов и для запуска без Postgres.
type Memory struct {
	mu      sync.RWMutex
	data    map[string]map[string]Doc
	entropy io.Reader
}

func NewMemory() *Memory {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Memory{
		data:    make(map[string]map[string]Doc),
		entropy: ulid.Monotonic(src, 0),
	}
}

func (m *Memory) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), m.entropy).String()
}

func (m *Memory) Create(_ context.Context, collection string, doc Doc) (Doc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data[collection] == nil {
		m.data[collection] = make(map[string]Doc)
	}
	stored := cloneDoc(doc)
	id, _ := stored[IDField].(string)
	if id == "" {
		id = m.newID()
		stored[IDField] = id
	}
	m.data[collection][id] = stored
	return cloneDoc(stored), nil
}

func (m *Memory) Update(_ context.Context, collection string, filter Filter, patch Doc) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, doc := range m.data[collection] {
		if !matchFilter(doc, filter) {
			continue
		}
		for k, v := range patch {
			if k == IDField {
				continue // id не перетираем
			}
			doc[k] = v
		}
		n++
	}
	return n, nil
}

func (m *Memory) Delete(_ context.Context, collection string, filter Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, doc := range m.data[collection] {
		if matchFilter(doc, filter) {
			delete(m.data[collection], id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Find(_ context.Context, collection string, filter Filter, fields []string) ([]Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(collection, filter, fields), nil
}

func (m *Memory) FindOne(ctx context.Context, collection string, filter Filter, fields []string) (Doc, error) {
	docs, err := m.Find(ctx, collection, filter, fields)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (m *Memory) FindSort(_ context.Context, collection string, filter Filter, fields []string, keys []SortKey) ([]Doc, error) {
	m.mu.RLock()
	out := m.findLocked(collection, filter, fields)
	m.mu.RUnlock()
	sortDocs(out, keys)
	return out, nil
}

func (m *Memory) FindPage(ctx context.Context, collection string, filter Filter, fields []string, keys []SortKey, offset, limit int) ([]Doc, error) {
	all, err := m.FindSort(ctx, collection, filter, fields, keys)
	if err != nil {
		return nil, err
	}
	start := offset
	if start < 0 {
		start = 0
	}
	if start > len(all) {
		start = len(all)
	}
	end := len(all)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return all[start:end], nil
}

func (m *Memory) Count(_ context.Context, collection string, filter Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, doc := range m.data[collection] {
		if matchFilter(doc, filter) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Sum(_ context.Context, collection string, filter Filter, field string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum float64
	for _, doc := range m.data[collection] {
		if !matchFilter(doc, filter) {
			continue
		}
		if f, ok := asFloat(doc[field]); ok {
			sum += f
		}
	}
	return sum, nil
}

func (m *Memory) Push(_ context.Context, collection string, filter Filter, field string, element any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range m.data[collection] {
		if !matchFilter(doc, filter) {
			continue
		}
		arr, _ := doc[field].([]any)
		doc[field] = append(arr, element)
	}
	return nil
}

func (m *Memory) Pull(_ context.Context, collection string, filter Filter, field string, element any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range m.data[collection] {
		if !matchFilter(doc, filter) {
			continue
		}
		arr, ok := doc[field].([]any)
		if !ok {
			continue
		}
		out := make([]any, 0, len(arr))
		for _, it := range arr {
			if !looseEqual(it, element) {
				out = append(out, it)
			}
		}
		doc[field] = out
	}
	return nil
}

func (m *Memory) AddToSet(_ context.Context, collection string, filter Filter, field string, element any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range m.data[collection] {
		if !matchFilter(doc, filter) {
			continue
		}
		arr, _ := doc[field].([]any)
		found := false
		for _, it := range arr {
			if looseEqual(it, element) {
				found = true
				break
			}
		}
		if !found {
			doc[field] = append(arr, element)
		}
	}
	return nil
}

func (m *Memory) findLocked(collection string, filter Filter, fields []string) []Doc {
	recMap := m.data[collection]
	out := make([]Doc, 0, len(recMap))
	for _, doc := range recMap {
		if matchFilter(doc, filter) {
			out = append(out, project(doc, fields))
		}
	}
	return out
}

// project копирует документ, оставляя только запрошенные поля (+_id).
func project(doc Doc, fields []string) Doc {
	if len(fields) == 0 {
		return cloneDoc(doc)
	}
	out := make(Doc, len(fields)+1)
	out[IDField] = doc[IDField]
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

func cloneDoc(doc Doc) Doc {
	out := make(Doc, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// ==== вычислитель фильтров ====

func matchFilter(doc Doc, filter Filter) bool {
	for key, want := range filter {
		if key == "$or" {
			alts, ok := want.([]Filter)
			if !ok {
				// допускаем и []any с map внутри
				if raw, okAny := want.([]any); okAny {
					alts = make([]Filter, 0, len(raw))
					for _, r := range raw {
						if f, okf := r.(map[string]any); okf {
							alts = append(alts, f)
						}
					}
				}
			}
			found := false
			for _, alt := range alts {
				if matchFilter(doc, alt) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}

		got, has := doc[key]
		if ops, isOps := want.(map[string]any); isOps && hasOpKey(ops) {
			if !matchOps(got, has, ops) {
				return false
			}
			continue
		}
		if !has || !looseEqual(got, want) {
			return false
		}
	}
	return true
}

func hasOpKey(m map[string]any) bool {
	for k := range m {
		if len(k) > 0 && k[0] == '$' {
			return true
		}
	}
	return false
}

func matchOps(got any, has bool, ops map[string]any) bool {
	for op, arg := range ops {
		switch op {
		case "$in":
			if !containsLoose(arg, got) {
				return false
			}
		case "$nin":
			if containsLoose(arg, got) {
				return false
			}
		case "$all":
			want := asSlice(arg)
			have := asSlice(got)
			for _, w := range want {
				ok := false
				for _, h := range have {
					if looseEqual(h, w) {
						ok = true
						break
					}
				}
				if !ok {
					return false
				}
			}
		case "$ne":
			if has && looseEqual(got, arg) {
				return false
			}
		case "$regex":
			pat, _ := arg.(string)
			s, ok := got.(string)
			if !ok {
				return false
			}
			re, err := regexp.Compile(pat)
			if err != nil || !re.MatchString(s) {
				return false
			}
		case "$gt", "$gte", "$lt", "$lte":
			if !has || !compareLoose(got, arg, op) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func containsLoose(arg, got any) bool {
	for _, w := range asSlice(arg) {
		if looseEqual(got, w) {
			return true
		}
		// значение-массив матчится, если хоть один элемент в списке
		for _, g := range asSlice(got) {
			if looseEqual(g, w) {
				return true
			}
		}
	}
	return false
}

func asSlice(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, 0, len(t))
		for _, s := range t {
			out = append(out, s)
		}
		return out
	case nil:
		return nil
	}
	return nil
}

// looseEqual: числа сравниваем как числа, остальное — по строковому представлению.
func looseEqual(a, b any) bool {
	if fa, oka := asFloat(a); oka {
		if fb, okb := asFloat(b); okb {
			return fa == fb
		}
	}
	return stringify(a) == stringify(b)
}

func compareLoose(got, want any, op string) bool {
	gf, okg := asFloat(got)
	wf, okw := asFloat(want)
	var rel int
	if okg && okw {
		switch {
		case gf < wf:
			rel = -1
		case gf > wf:
			rel = +1
		}
	} else {
		gs, ws := stringify(got), stringify(want)
		switch {
		case gs < ws:
			rel = -1
		case gs > ws:
			rel = +1
		}
	}
	switch op {
	case "$gt":
		return rel > 0
	case "$gte":
		return rel >= 0
	case "$lt":
		return rel < 0
	case "$lte":
		return rel <= 0
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ==== сортировка ====

// cmpByKey — сравнение двух документов по ключу; null'ы всегда в конец.
func cmpByKey(a, b Doc, key string, desc bool) int {
	va, oka := a[key]
	vb, okb := b[key]

	na := !oka || va == nil
	nb := !okb || vb == nil
	if na && nb {
		return 0
	}
	if na != nb {
		if na {
			return +1
		}
		return -1
	}

	rel := 0
	if fa, ok1 := asFloat(va); ok1 {
		if fb, ok2 := asFloat(vb); ok2 {
			switch {
			case fa < fb:
				rel = -1
			case fa > fb:
				rel = +1
			}
			if desc {
				rel = -rel
			}
			return rel
		}
	}
	sa, sb := stringify(va), stringify(vb)
	switch {
	case sa < sb:
		rel = -1
	case sa > sb:
		rel = +1
	}
	if desc {
		rel = -rel
	}
	return rel
}

func sortDocs(docs []Doc, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			if k.Field == "" {
				continue
			}
			if c := cmpByKey(docs[i], docs[j], k.Field, k.Desc); c != 0 {
				return c < 0
			}
		}
		return false
	})
}
