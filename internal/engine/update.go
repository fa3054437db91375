package engine

import (
	"context"
	"strings"

	"berkut/internal/store"
)

// Update меняет один документ. Цель ищется по id, а без id — по кортежу
// первичного ключа из входа; совпадение обязано быть ровно одно.
// Конвертация с preserve-empty: явная пустая строка очищает поле,
// отсутствующее поле не трогается.
func (ent *Entity) Update(ctx context.Context, id string, in map[string]any, view string) *Result {
	patch, bad := ent.convertFields(ent.Meta.UpdateFields, in, view, true, false)
	if len(bad) > 0 {
		return fail(CodeInvalidParams, "invalid fields: %s", strings.Join(bad, ", "))
	}
	if len(patch) == 0 {
		return fail(CodeMissingParams, "nothing to update")
	}

	// найти цель
	var filter store.Filter
	if strings.TrimSpace(id) != "" {
		filter = store.Filter{store.IDField: id}
	} else {
		filter = ent.pkFilter(patch)
		if filter == nil {
			return fail(CodeMissingParams, "missing id or primary key fields")
		}
	}
	matches, err := ent.eng.Store.Find(ctx, ent.Meta.Name, filter, []string{store.IDField})
	if err != nil {
		return fail(CodeError, "find %s: %v", ent.Meta.Name, err)
	}
	switch {
	case len(matches) == 0:
		return fail(CodeNotFound, "%s not found", ent.Meta.Name)
	case len(matches) > 1:
		return fail(CodeInvalidParams, "%s: more than one match", ent.Meta.Name)
	}
	targetID, _ := matches[0][store.IDField].(string)

	if res := ent.validateRef(ctx, patch); !resOK(res) {
		return res
	}

	args := &HookArgs{Doc: patch, ID: targetID, View: view}
	if res := runHook(ctx, ent.hook().BeforeUpdate, ent, args); res != nil {
		return res
	}

	if h := ent.hook().Update; h != nil {
		res := h(ctx, ent, args)
		if res != nil && !res.OK() {
			return res
		}
	} else {
		idFilter := store.Filter{store.IDField: targetID}
		if _, err := ent.eng.Store.Update(ctx, ent.Meta.Name, idFilter, patch); err != nil {
			return fail(CodeError, "update %s: %v", ent.Meta.Name, err)
		}
	}

	updated, err := ent.eng.Store.FindOne(ctx, ent.Meta.Name, store.Filter{store.IDField: targetID}, nil)
	if err != nil {
		return fail(CodeError, "reread %s: %v", ent.Meta.Name, err)
	}
	args.Docs = []store.Doc{updated}
	if res := runHook(ctx, ent.hook().AfterUpdate, ent, args); res != nil {
		return res
	}
	return ok(updated)
}

// BatchUpdate применяет один и тот же патч к набору документов по списку id.
func (ent *Entity) BatchUpdate(ctx context.Context, ids []string, in map[string]any, view string) *Result {
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			clean = append(clean, id)
		}
	}
	if len(clean) == 0 {
		return fail(CodeInvalidParams, "empty id list")
	}

	patch, bad := ent.convertFields(ent.Meta.UpdateFields, in, view, true, false)
	if len(bad) > 0 {
		return fail(CodeInvalidParams, "invalid fields: %s", strings.Join(bad, ", "))
	}
	if len(patch) == 0 {
		return fail(CodeMissingParams, "nothing to update")
	}
	if res := ent.validateRef(ctx, patch); !resOK(res) {
		return res
	}

	idList := make([]any, 0, len(clean))
	for _, id := range clean {
		idList = append(idList, id)
	}
	filter := store.Filter{store.IDField: map[string]any{"$in": idList}}

	args := &HookArgs{Doc: patch, IDs: clean, Filter: filter, View: view}
	var total int64
	if h := ent.hook().BatchUpdate; h != nil {
		res := h(ctx, ent, args)
		if res != nil && !res.OK() {
			return res
		}
		if res != nil {
			total = res.Total
		}
	} else {
		n, err := ent.eng.Store.Update(ctx, ent.Meta.Name, filter, patch)
		if err != nil {
			return fail(CodeError, "batch update %s: %v", ent.Meta.Name, err)
		}
		total = n
	}

	if res := runHook(ctx, ent.hook().AfterBatchUpdate, ent, args); res != nil {
		return res
	}
	return &Result{Code: CodeOK, Total: total}
}
