package engine

import (
	"fmt"
	"strings"

	"berkut/internal/meta"
	"berkut/internal/store"
	"berkut/internal/types"
)

// Коды результата. Роутер мапит их на wire-статусы, не заглядывая в Data.
const (
	CodeOK            = "ok"
	CodeNoPerm        = "no_perm"
	CodeMissingParams = "missing_params"
	CodeInvalidParams = "invalid_params"
	CodeNotFound      = "not_found"
	CodeDuplicate     = "duplicate"
	CodeRefNotFound   = "ref_not_found"
	CodeRefNotUnique  = "ref_not_unique"
	CodeHasRefs       = "has_refs"
	CodeError         = "error"
)

// Result — единый контракт всех операций движка.
type Result struct {
	Code  string `json:"code"`
	Err   string `json:"err,omitempty"`
	Total int64  `json:"total,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func (r *Result) OK() bool { return r != nil && r.Code == CodeOK }

func ok(data any) *Result { return &Result{Code: CodeOK, Data: data} }

func fail(code, format string, a ...any) *Result {
	return &Result{Code: code, Err: fmt.Sprintf(format, a...)}
}

// Engine связывает реестры и хранилище. Стройся один раз, раздавай handles.
type Engine struct {
	Types *types.Registry
	Metas *meta.Registry
	Store store.Store
	hooks map[string]*Hooks
}

func New(t *types.Registry, m *meta.Registry, s store.Store) *Engine {
	return &Engine{
		Types: t,
		Metas: m,
		Store: s,
		hooks: make(map[string]*Hooks),
	}
}

// SetHooks регистрирует хуки сущности. Звать на старте, до обработки запросов.
func (e *Engine) SetHooks(entity string, h *Hooks) {
	e.hooks[entity] = h
}

// Entity — дешёвый handle: метаданные + движок, никакого своего состояния.
type Entity struct {
	Meta  *meta.Meta
	Hooks *Hooks
	eng   *Engine
}

// Entity возвращает handle по имени коллекции.
func (e *Engine) Entity(name string) (*Entity, error) {
	m, err := e.Metas.Get(name)
	if err != nil {
		return nil, err
	}
	return &Entity{Meta: m, Hooks: e.hooks[name], eng: e}, nil
}

// ViewVisible: поле видно, если его view — '*', view вызывающего — '*',
// или view-строка вызывающего содержит один из view-токенов поля.
func ViewVisible(fieldView []string, callerView string) bool {
	if callerView == "*" {
		return true
	}
	for _, tok := range fieldView {
		if tok == "*" || strings.Contains(callerView, tok) {
			return true
		}
	}
	return false
}
