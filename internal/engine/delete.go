package engine

import (
	"context"
	"fmt"
	"strings"

	"berkut/internal/store"
)

// Delete удаляет документы по списку id с обходом ссылочного графа:
//   - keep на ссылающемся поле — удаляем, ссылку не трогаем;
//   - cascade — сперва рекурсивно удаляем ссылающиеся документы;
//   - режим не задан — удаление блокируется, в ошибке перечисляем
//     «коллекция(метка, ...)» всех блокирующих документов.
//
// Каскадный обход — это серия отдельных вызовов хранилища: упавший на середине
// каскад оставит часть ссылающихся документов удалённой. Транзакций поверх
// не строим, это осознанное ограничение.
func (ent *Entity) Delete(ctx context.Context, ids []string) *Result {
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			clean = append(clean, id)
		}
	}
	if len(clean) == 0 {
		return fail(CodeInvalidParams, "empty id list")
	}
	idList := make([]any, 0, len(clean))
	for _, id := range clean {
		idList = append(idList, id)
	}
	inIDs := map[string]any{"$in": idList}

	// 1) кто ещё ссылается: блокирующие и каскадные поля
	type cascadeStep struct {
		entity string
		field  string
	}
	var blockers []string
	var cascades []cascadeStep

	for _, refName := range ent.Meta.RefBy {
		refMeta, err := ent.eng.Metas.Get(refName)
		if err != nil {
			return fail(CodeError, "ref_by %s: %v", refName, err)
		}
		for _, f := range refMeta.RefFields {
			if f.Ref != ent.Meta.Name {
				continue
			}
			switch f.DeleteMode {
			case "keep":
				continue
			case "cascade":
				cascades = append(cascades, cascadeStep{entity: refName, field: f.Name})
			default:
				// режим не задан — ищем блокирующие документы
				docs, err := ent.eng.Store.Find(ctx, refName,
					store.Filter{f.Name: inIDs}, []string{refMeta.RefLabel})
				if err != nil {
					return fail(CodeError, "find %s: %v", refName, err)
				}
				if len(docs) == 0 {
					continue
				}
				labels := make([]string, 0, len(docs))
				for _, d := range docs {
					labels = append(labels, fmt.Sprintf("%v", d[refMeta.RefLabel]))
				}
				blockers = append(blockers, fmt.Sprintf("%s(%s)", refName, strings.Join(labels, ", ")))
			}
		}
	}
	if len(blockers) > 0 {
		return fail(CodeHasRefs, "has references: %s", strings.Join(blockers, "; "))
	}

	args := &HookArgs{IDs: clean, Filter: store.Filter{store.IDField: inIDs}}
	if res := runHook(ctx, ent.hook().BeforeDelete, ent, args); res != nil {
		return res
	}

	// 2) каскады — сначала ссылающиеся документы, потом мы сами
	for _, step := range cascades {
		refMeta, _ := ent.eng.Metas.Get(step.entity)
		docs, err := ent.eng.Store.Find(ctx, step.entity,
			store.Filter{step.field: inIDs}, []string{store.IDField})
		if err != nil {
			return fail(CodeError, "find %s: %v", step.entity, err)
		}
		if len(docs) == 0 {
			continue
		}
		childIDs := make([]string, 0, len(docs))
		for _, d := range docs {
			if id, _ := d[store.IDField].(string); id != "" {
				childIDs = append(childIDs, id)
			}
		}
		child := &Entity{Meta: refMeta, Hooks: ent.eng.hooks[step.entity], eng: ent.eng}
		if res := child.Delete(ctx, childIDs); !res.OK() {
			return res
		}
	}

	// 3) основной шаг
	var total int64
	if h := ent.hook().Delete; h != nil {
		res := h(ctx, ent, args)
		if res != nil && !res.OK() {
			return res
		}
		if res != nil {
			total = res.Total
		}
	} else {
		n, err := ent.eng.Store.Delete(ctx, ent.Meta.Name, store.Filter{store.IDField: inIDs})
		if err != nil {
			return fail(CodeError, "delete %s: %v", ent.Meta.Name, err)
		}
		total = n
	}

	if res := runHook(ctx, ent.hook().AfterDelete, ent, args); res != nil {
		return res
	}
	return &Result{Code: CodeOK, Total: total}
}
