package engine

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"berkut/internal/meta"
	"berkut/internal/store"
)

var numericTypes = map[string]bool{
	"int": true, "uint": true, "float": true, "percent": true,
	"money": true, "currency": true, "age": true, "gender": true,
}

var stringTypes = map[string]bool{
	"string": true, "text": true, "enum": true, "date": true, "category": true,
	"file": true, "slug": true, "email": true, "url": true, "phone": true,
	"uuid": true, "color": true, "ipaddress": true, "time": true,
}

// BuildSearchFilter строит фильтр из поисковых параметров запроса.
// Грамматика значений:
//
//	">=10" / "<=10" / ">10" / "<10" — диапазон;
//	"a,b,c"                        — множество ($in; для array-полей $all);
//	одиночное значение             — substring-матч для строк, метка для ссылок,
//	                                 равенство для остального.
//
// Голый "0" на числовом поле — это «значение не задано», фильтра нет.
// Ноль с префиксом сравнения или в списке — полноценный фильтр.
func (ent *Entity) BuildSearchFilter(ctx context.Context, query map[string]string) (store.Filter, *Result) {
	filter := make(store.Filter)

	for _, f := range ent.Meta.SearchFields {
		raw := strings.TrimSpace(query[f.Name])
		if raw == "" {
			continue
		}
		numeric := numericTypes[f.Type]
		if numeric && raw == "0" {
			continue
		}

		// префикс сравнения
		if op, val, okCmp := splitComparison(raw); okCmp {
			filter[f.Name] = map[string]any{op: searchValue(val, numeric)}
			continue
		}

		// список через запятую
		if strings.Contains(raw, ",") {
			parts := strings.Split(raw, ",")
			vals := make([]any, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					vals = append(vals, searchValue(p, numeric))
				}
			}
			if len(vals) == 0 {
				continue
			}
			op := "$in"
			if f.Type == "array" {
				op = "$all" // у массивов семантика «все из», не «любое из»
			}
			filter[f.Name] = map[string]any{op: vals}
			continue
		}

		// одиночное значение
		switch {
		case f.IsRef() && !f.IsLink():
			res := ent.refSearchTerm(ctx, f, raw, filter)
			if !resOK(res) {
				return nil, res
			}
		case stringTypes[f.Type]:
			filter[f.Name] = map[string]any{"$regex": "(?i)" + regexp.QuoteMeta(raw)}
		case f.Type == "bool":
			filter[f.Name] = strings.EqualFold(raw, "true")
		default:
			filter[f.Name] = searchValue(raw, numeric)
		}
	}

	// _id как дополнительный член фильтра
	if raw := strings.TrimSpace(query[store.IDField]); raw != "" {
		if strings.Contains(raw, ",") {
			ids := make([]any, 0)
			for _, p := range strings.Split(raw, ",") {
				if p = strings.TrimSpace(p); p != "" {
					ids = append(ids, p)
				}
			}
			filter[store.IDField] = map[string]any{"$in": ids}
		} else {
			filter[store.IDField] = raw
		}
	}

	return filter, nil
}

// refSearchTerm: значение на ref-поле сначала прогоняется через индекс меток
// целевой сущности, а потом превращается в тест принадлежности идентификаторам.
func (ent *Entity) refSearchTerm(ctx context.Context, f meta.Field, raw string, filter store.Filter) *Result {
	target, err := ent.eng.Metas.Get(f.Ref)
	if err != nil {
		return fail(CodeError, "%s.%s: %v", ent.Meta.Name, f.Name, err)
	}
	matches, err := ent.eng.Store.Find(ctx, target.Name,
		store.Filter{target.RefLabel: map[string]any{"$regex": "(?i)" + regexp.QuoteMeta(raw)}},
		[]string{store.IDField})
	if err != nil {
		return fail(CodeError, "find %s: %v", target.Name, err)
	}
	ids := make([]any, 0, len(matches))
	for _, d := range matches {
		if id, _ := d[store.IDField].(string); id != "" {
			ids = append(ids, id)
		}
	}
	// пустой список совпадений — фильтр, который ничего не найдёт;
	// это корректнее, чем молча убрать условие
	filter[f.Name] = map[string]any{"$in": ids}
	return nil
}

func splitComparison(raw string) (op, val string, ok bool) {
	for _, c := range []struct {
		prefix string
		op     string
	}{
		{">=", "$gte"}, {"<=", "$lte"}, {">", "$gt"}, {"<", "$lt"},
	} {
		if strings.HasPrefix(raw, c.prefix) {
			return c.op, strings.TrimSpace(strings.TrimPrefix(raw, c.prefix)), true
		}
	}
	return "", "", false
}

// searchValue: числовые значения сравниваем как числа, остальные — как строки.
func searchValue(s string, numeric bool) any {
	if numeric {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}
