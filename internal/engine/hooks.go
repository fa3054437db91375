package engine

import (
	"context"

	"berkut/internal/store"
)

// HookArgs — аргументы хука; заполняются те поля, что осмыслены для операции.
type HookArgs struct {
	Doc      map[string]any    // конвертированные поля операции
	ID       string
	IDs      []string
	SourceID string            // clone: идентификатор исходного документа
	Filter   store.Filter      // list_query: хук может дописать условия
	Docs     []store.Doc       // after_*: затронутые документы
	View     string
	Query    map[string]string // list: сырые параметры запроса
}

// HookFunc возвращает не-ok Result, чтобы прервать пайплайн операции.
// nil-результат трактуется как ok.
type HookFunc func(ctx context.Context, ent *Entity, args *HookArgs) *Result

// Hooks — фиксированный набор необязательных колбэков сущности.
// Порядок вызова всегда before -> основной шаг -> after; явные поля вместо
// динамического поиска по имени, чтобы опечатка ловилась компилятором.
type Hooks struct {
	BeforeCreate HookFunc
	Create       HookFunc // переопределяет вставку по умолчанию
	AfterCreate  HookFunc

	BeforeClone HookFunc
	Clone       HookFunc
	AfterClone  HookFunc

	BeforeUpdate HookFunc
	Update       HookFunc
	AfterUpdate  HookFunc

	BatchUpdate      HookFunc
	AfterBatchUpdate HookFunc

	BeforeDelete HookFunc
	Delete       HookFunc
	AfterDelete  HookFunc

	AfterRead HookFunc
	ListQuery HookFunc
}

// runHook зовёт хук, если он есть. nil-хук и nil-результат — это ok.
func runHook(ctx context.Context, h HookFunc, ent *Entity, args *HookArgs) *Result {
	if h == nil {
		return nil
	}
	res := h(ctx, ent, args)
	if res == nil || res.OK() {
		return nil
	}
	return res
}
