package engine

import (
	"context"
	"fmt"

	"berkut/internal/store"
)

// validateRef разрешает значения ref-полей документа: идентификатор, список
// идентификаторов или строка-метка. Успех переписывает поле на канонический
// идентификатор (или список); ноль совпадений по метке — ref_not_found,
// больше одного — ref_not_unique.
func (ent *Entity) validateRef(ctx context.Context, doc map[string]any) *Result {
	for _, f := range ent.Meta.RefFields {
		raw, present := doc[f.Name]
		if !present || raw == nil {
			continue
		}
		if s, isStr := raw.(string); isStr && s == "" {
			continue
		}
		target, err := ent.eng.Metas.Get(f.Ref)
		if err != nil {
			return fail(CodeError, "%s.%s: %v", ent.Meta.Name, f.Name, err)
		}

		switch v := raw.(type) {
		case []any, []string:
			ids := toStringList(v)
			if len(ids) == 0 {
				continue
			}
			idList := make([]any, 0, len(ids))
			for _, id := range ids {
				idList = append(idList, id)
			}
			found, err := ent.eng.Store.Find(ctx, target.Name,
				store.Filter{store.IDField: map[string]any{"$in": idList}}, []string{store.IDField})
			if err != nil {
				return fail(CodeError, "find %s: %v", target.Name, err)
			}
			if len(found) != len(ids) {
				return fail(CodeRefNotFound, "%s: reference not found", f.Name)
			}
			doc[f.Name] = idList
		case string:
			// сперва как идентификатор
			byID, err := ent.eng.Store.FindOne(ctx, target.Name,
				store.Filter{store.IDField: v}, []string{store.IDField})
			if err != nil {
				return fail(CodeError, "find %s: %v", target.Name, err)
			}
			if byID != nil {
				continue
			}
			// потом по метке
			matches, err := ent.eng.Store.Find(ctx, target.Name,
				store.Filter{target.RefLabel: v}, []string{store.IDField})
			if err != nil {
				return fail(CodeError, "find %s: %v", target.Name, err)
			}
			switch {
			case len(matches) == 0:
				return fail(CodeRefNotFound, "%s: reference not found", f.Name)
			case len(matches) > 1:
				return fail(CodeRefNotUnique, "%s: reference not unique", f.Name)
			}
			doc[f.Name] = matches[0][store.IDField]
		default:
			return fail(CodeInvalidParams, "%s: bad reference value", f.Name)
		}
	}
	return nil
}

// convertRefAttrs — обратное направление: для выдачи подменяет идентификаторы
// ссылок на метки целевой сущности. Метки дочитываются одним батчем на поле,
// сырой идентификатор сохраняется в теневом атрибуте "<поле>_id".
func (ent *Entity) convertRefAttrs(ctx context.Context, docs []store.Doc) *Result {
	for _, f := range ent.Meta.RefFields {
		target, err := ent.eng.Metas.Get(f.Ref)
		if err != nil {
			return fail(CodeError, "%s.%s: %v", ent.Meta.Name, f.Name, err)
		}

		// все различные идентификаторы по этому полю
		idSet := make(map[string]struct{})
		for _, d := range docs {
			for _, id := range refIDs(d[f.Name]) {
				idSet[id] = struct{}{}
			}
		}
		if len(idSet) == 0 {
			continue
		}
		idList := make([]any, 0, len(idSet))
		for id := range idSet {
			idList = append(idList, id)
		}
		found, err := ent.eng.Store.Find(ctx, target.Name,
			store.Filter{store.IDField: map[string]any{"$in": idList}},
			[]string{target.RefLabel})
		if err != nil {
			return fail(CodeError, "find %s: %v", target.Name, err)
		}
		labels := make(map[string]string, len(found))
		for _, d := range found {
			if id, _ := d[store.IDField].(string); id != "" {
				labels[id] = fmt.Sprintf("%v", d[target.RefLabel])
			}
		}

		shadow := f.Name + "_id"
		for _, d := range docs {
			raw, present := d[f.Name]
			if !present || raw == nil {
				continue
			}
			d[shadow] = raw
			switch {
			case isList(raw):
				ids := refIDs(raw)
				out := make([]any, 0, len(ids))
				for _, id := range ids {
					if lbl, okL := labels[id]; okL {
						out = append(out, lbl)
					} else {
						out = append(out, id)
					}
				}
				d[f.Name] = out
			default:
				if id, _ := raw.(string); id != "" {
					if lbl, okL := labels[id]; okL {
						d[f.Name] = lbl
					}
				}
			}
		}
	}
	return nil
}

// readLinkAttrs — одноуровневый денормализованный join: для каждого link-поля
// дочитываем связанные документы (один запрос на целевую сущность, не на поле)
// и вливаем запрошенный атрибут в строки результата. Ссылки внутри связанных
// документов разрешаются рекурсивно через convertRefAttrs целевой сущности.
func (ent *Entity) readLinkAttrs(ctx context.Context, docs []store.Doc) *Result {
	if len(ent.Meta.LinkFields) == 0 || len(docs) == 0 {
		return nil
	}

	// группировка по целевой сущности
	type linkGroup struct {
		target   string
		siblings map[string]struct{} // имена соседних ref-полей
		fields   []string            // link-поля, читающие из этой сущности
	}
	groups := make(map[string]*linkGroup)
	for _, f := range ent.Meta.LinkFields {
		sibling, okS := ent.Meta.Field(f.Link)
		if !okS || !sibling.IsRef() {
			continue
		}
		g, okG := groups[sibling.Ref]
		if !okG {
			g = &linkGroup{target: sibling.Ref, siblings: make(map[string]struct{})}
			groups[sibling.Ref] = g
		}
		g.siblings[sibling.Name] = struct{}{}
		g.fields = append(g.fields, f.Name)
	}

	for _, g := range groups {
		targetMeta, err := ent.eng.Metas.Get(g.target)
		if err != nil {
			return fail(CodeError, "link target %s: %v", g.target, err)
		}

		idSet := make(map[string]struct{})
		for _, d := range docs {
			for sibling := range g.siblings {
				for _, id := range refIDs(d[sibling]) {
					idSet[id] = struct{}{}
				}
			}
		}
		if len(idSet) == 0 {
			continue
		}
		idList := make([]any, 0, len(idSet))
		for id := range idSet {
			idList = append(idList, id)
		}
		linked, err := ent.eng.Store.Find(ctx, g.target,
			store.Filter{store.IDField: map[string]any{"$in": idList}}, nil)
		if err != nil {
			return fail(CodeError, "find %s: %v", g.target, err)
		}

		// ссылки, достижимые из связанной сущности, тоже разворачиваем
		targetEnt := &Entity{Meta: targetMeta, Hooks: ent.eng.hooks[g.target], eng: ent.eng}
		if res := targetEnt.convertRefAttrs(ctx, linked); !resOK(res) {
			return res
		}

		byID := make(map[string]store.Doc, len(linked))
		for _, ld := range linked {
			if id, _ := ld[store.IDField].(string); id != "" {
				byID[id] = ld
			}
		}

		for _, d := range docs {
			for _, fieldName := range g.fields {
				f, _ := ent.Meta.Field(fieldName)
				sibling, _ := ent.Meta.Field(f.Link)
				ids := refIDs(d[sibling.Name])
				switch len(ids) {
				case 0:
					continue
				case 1:
					if ld, okL := byID[ids[0]]; okL {
						d[fieldName] = ld[fieldName]
					}
				default:
					out := make([]any, 0, len(ids))
					for _, id := range ids {
						if ld, okL := byID[id]; okL {
							out = append(out, ld[fieldName])
						}
					}
					d[fieldName] = out
				}
			}
		}
	}
	return nil
}

// ==== утилиты значений ссылок ====

func isList(v any) bool {
	switch v.(type) {
	case []any, []string:
		return true
	}
	return false
}

func toStringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, it := range t {
			if s, okS := it.(string); okS && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// refIDs достаёт идентификаторы из значения ref-поля (строка или список).
func refIDs(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any, []string:
		return toStringList(t)
	}
	return nil
}
