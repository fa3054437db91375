package engine

import (
	"context"
	"strings"

	"berkut/internal/store"
)

// Create проверяет и вставляет новый документ.
// Конвейер: фильтрация по view -> конвертация типов -> required -> дубликат по
// первичному ключу -> валидация ссылок -> before_create -> вставка (или
// кастомный хук) -> after_create.
func (ent *Entity) Create(ctx context.Context, in map[string]any, view string) *Result {
	doc, bad := ent.convertFields(ent.Meta.CreateFields, in, view, false, true)
	if len(bad) > 0 {
		return fail(CodeInvalidParams, "invalid fields: %s", strings.Join(bad, ", "))
	}
	if missing := ent.checkRequired(doc); len(missing) > 0 {
		return fail(CodeMissingParams, "missing fields: %s", strings.Join(missing, ", "))
	}
	if res := ent.checkDuplicate(ctx, doc); !resOK(res) {
		return res
	}
	if res := ent.validateRef(ctx, doc); !resOK(res) {
		return res
	}

	args := &HookArgs{Doc: doc, View: view}
	if res := runHook(ctx, ent.hook().BeforeCreate, ent, args); res != nil {
		return res
	}

	var created store.Doc
	if h := ent.hook().Create; h != nil {
		res := h(ctx, ent, args)
		if res != nil && !res.OK() {
			return res
		}
		if res != nil {
			created, _ = res.Data.(store.Doc)
		}
	} else {
		var err error
		created, err = ent.eng.Store.Create(ctx, ent.Meta.Name, doc)
		if err != nil {
			return fail(CodeError, "create %s: %v", ent.Meta.Name, err)
		}
	}

	args.Docs = []store.Doc{created}
	if res := runHook(ctx, ent.hook().AfterCreate, ent, args); res != nil {
		return res
	}
	return ok(created)
}

// Clone — как Create, но по подмножеству clone-полей и с идентификатором
// исходного документа в аргументах хуков. Сам документ-источник автоматически
// не копируется: новые значения приносит вызывающий.
func (ent *Entity) Clone(ctx context.Context, sourceID string, in map[string]any, view string) *Result {
	if strings.TrimSpace(sourceID) == "" {
		return fail(CodeMissingParams, "missing source id")
	}
	doc, bad := ent.convertFields(ent.Meta.CloneFields, in, view, false, true)
	if len(bad) > 0 {
		return fail(CodeInvalidParams, "invalid fields: %s", strings.Join(bad, ", "))
	}
	if missing := ent.checkRequired(doc); len(missing) > 0 {
		return fail(CodeMissingParams, "missing fields: %s", strings.Join(missing, ", "))
	}
	if res := ent.checkDuplicate(ctx, doc); !resOK(res) {
		return res
	}
	if res := ent.validateRef(ctx, doc); !resOK(res) {
		return res
	}

	args := &HookArgs{Doc: doc, View: view, SourceID: sourceID}
	if res := runHook(ctx, ent.hook().BeforeClone, ent, args); res != nil {
		return res
	}

	var created store.Doc
	if h := ent.hook().Clone; h != nil {
		res := h(ctx, ent, args)
		if res != nil && !res.OK() {
			return res
		}
		if res != nil {
			created, _ = res.Data.(store.Doc)
		}
	} else {
		var err error
		created, err = ent.eng.Store.Create(ctx, ent.Meta.Name, doc)
		if err != nil {
			return fail(CodeError, "clone %s: %v", ent.Meta.Name, err)
		}
	}

	args.Docs = []store.Doc{created}
	if res := runHook(ctx, ent.hook().AfterClone, ent, args); res != nil {
		return res
	}
	return ok(created)
}

// checkDuplicate — предпроверка «документ с таким первичным ключом уже есть».
// Между count и insert нет транзакции: параллельная вставка может проскочить,
// это известное ограничение однозвенной схемы работы с хранилищем.
func (ent *Entity) checkDuplicate(ctx context.Context, doc map[string]any) *Result {
	pk := ent.pkFilter(doc)
	if pk == nil {
		return nil
	}
	n, err := ent.eng.Store.Count(ctx, ent.Meta.Name, pk)
	if err != nil {
		return fail(CodeError, "count %s: %v", ent.Meta.Name, err)
	}
	if n > 0 {
		return fail(CodeDuplicate, "%s already exists", ent.Meta.Name)
	}
	return nil
}

// pkFilter собирает фильтр по первичному ключу из значений документа.
// nil, если ключа нет или значения неполные.
func (ent *Entity) pkFilter(doc map[string]any) store.Filter {
	if len(ent.Meta.PrimaryKeys) == 0 {
		return nil
	}
	f := make(store.Filter, len(ent.Meta.PrimaryKeys))
	for _, name := range ent.Meta.PrimaryKeys {
		v, present := doc[name]
		if !present || v == nil {
			return nil
		}
		f[name] = v
	}
	return f
}

func resOK(r *Result) bool { return r == nil || r.OK() }

// hook возвращает хуки сущности (или пустой набор — nil-safe).
var noHooks Hooks

func (ent *Entity) hook() *Hooks {
	if ent.Hooks == nil {
		return &noHooks
	}
	return ent.Hooks
}
