package engine

import (
	"sort"
	"strings"

	"berkut/internal/meta"
	"berkut/internal/types"
)

// convertFields фильтрует вход по набору полей и view вызывающего и гонит
// значения через реестр типов. Возвращает конвертированный документ и список
// полей, не прошедших конвертацию.
//
// preserveEmpty — семантика update: явная пустая строка очищает поле и кладётся
// как есть, отсутствующее поле не трогается. Это единственное место, где пустая
// строка и отсутствие значения различаются.
// withDefaults — семантика create/clone: отсутствующее поле получает default.
func (ent *Entity) convertFields(fields []meta.Field, in map[string]any, view string, preserveEmpty, withDefaults bool) (map[string]any, []string) {
	out := make(map[string]any, len(in))
	var bad []string

	for _, f := range fields {
		if !ViewVisible(f.View, view) {
			continue
		}
		raw, present := in[f.Name]
		if !present || raw == nil {
			if withDefaults && f.Default != nil {
				out[f.Name] = f.Default
			}
			continue
		}
		if preserveEmpty {
			if s, isStr := raw.(string); isStr && s == "" {
				out[f.Name] = ""
				continue
			}
		}

		// ref-поля разрешаются отдельно (validateRef), здесь только
		// защита от операторных объектов
		if f.IsRef() {
			if types.LooksLikeOperator(raw) {
				bad = append(bad, f.Name)
				continue
			}
			out[f.Name] = raw
			continue
		}

		v, err := types.ConvertField(ent.eng.Types, f.Type, raw)
		if err != nil {
			bad = append(bad, f.Name)
			continue
		}
		out[f.Name] = v
	}

	sort.Strings(bad)
	return out, bad
}

// checkRequired возвращает имена обязательных полей, отсутствующих в документе.
func (ent *Entity) checkRequired(doc map[string]any) []string {
	var missing []string
	for _, name := range ent.Meta.RequiredFieldNames {
		v, present := doc[name]
		if !present || v == nil {
			missing = append(missing, name)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
