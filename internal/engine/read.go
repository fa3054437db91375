package engine

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"berkut/internal/meta"
	"berkut/internal/store"
)

// List — постраничная выборка. Обязательные параметры запроса: attr_names,
// sort_by, desc (параллельные списки через запятую). Номер страницы 1-based.
// Итоговый фильтр — базовый фильтр вызывающего плюс поисковый фильтр из
// остальных параметров; ссылки и link-поля в выдаче развёрнуты для показа.
func (ent *Entity) List(ctx context.Context, query map[string]string, baseFilter store.Filter, view string) *Result {
	var missing []string
	for _, p := range []string{"attr_names", "sort_by", "desc"} {
		if strings.TrimSpace(query[p]) == "" {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return fail(CodeMissingParams, "missing parameters: %s", strings.Join(missing, ", "))
	}

	// видимые атрибуты
	attrs := ent.listAttrs(splitList(query["attr_names"]), view)
	if len(attrs) == 0 {
		return fail(CodeInvalidParams, "no visible attributes")
	}

	// сортировка: параллельные списки полей и направлений
	sortFields := splitList(query["sort_by"])
	descs := splitList(query["desc"])
	keys := make([]store.SortKey, 0, len(sortFields))
	for i, fld := range sortFields {
		desc := false
		if i < len(descs) {
			desc = descs[i] == "true" || descs[i] == "1"
		}
		keys = append(keys, store.SortKey{Field: fld, Desc: desc})
	}

	// страница: 1-based
	page, _ := strconv.Atoi(query["page"])
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(query["limit"])
	if limit <= 0 {
		limit = 20
	}
	offset := (page - 1) * limit

	search, res := ent.BuildSearchFilter(ctx, query)
	if !resOK(res) {
		return res
	}
	filter := make(store.Filter, len(baseFilter)+len(search))
	for k, v := range baseFilter {
		filter[k] = v
	}
	for k, v := range search {
		filter[k] = v
	}

	args := &HookArgs{Filter: filter, Query: query, View: view}
	if r := runHook(ctx, ent.hook().ListQuery, ent, args); r != nil {
		return r
	}
	filter = args.Filter // хук мог дописать условия

	total, err := ent.eng.Store.Count(ctx, ent.Meta.Name, filter)
	if err != nil {
		return fail(CodeError, "count %s: %v", ent.Meta.Name, err)
	}
	docs, err := ent.eng.Store.FindPage(ctx, ent.Meta.Name, filter, attrs, keys, offset, limit)
	if err != nil {
		return fail(CodeError, "find %s: %v", ent.Meta.Name, err)
	}

	// сперва link-поля (им нужны сырые идентификаторы ссылок), потом метки
	if r := ent.readLinkAttrs(ctx, docs); !resOK(r) {
		return r
	}
	if r := ent.convertRefAttrs(ctx, docs); !resOK(r) {
		return r
	}
	return &Result{Code: CodeOK, Total: total, Data: docs}
}

// ReadEntity читает один документ для показа: ссылки развёрнуты в метки,
// link-поля дочитаны, в конце зовётся after_read.
func (ent *Entity) ReadEntity(ctx context.Context, id, view string) *Result {
	if strings.TrimSpace(id) == "" {
		return fail(CodeMissingParams, "missing id")
	}
	fields := ent.visibleNames(ent.Meta.ClientFields, view)
	doc, err := ent.eng.Store.FindOne(ctx, ent.Meta.Name, store.Filter{store.IDField: id}, fields)
	if err != nil {
		return fail(CodeError, "find %s: %v", ent.Meta.Name, err)
	}
	if doc == nil {
		return fail(CodeNotFound, "%s not found", ent.Meta.Name)
	}
	docs := []store.Doc{doc}
	if r := ent.readLinkAttrs(ctx, docs); !resOK(r) {
		return r
	}
	if r := ent.convertRefAttrs(ctx, docs); !resOK(r) {
		return r
	}
	args := &HookArgs{ID: id, Docs: docs, View: view}
	if r := runHook(ctx, ent.hook().AfterRead, ent, args); r != nil {
		return r
	}
	return ok(doc)
}

// ReadProperty читает сырые значения полей: ссылки остаются идентификаторами,
// link-поля не дочитываются.
func (ent *Entity) ReadProperty(ctx context.Context, id, view string) *Result {
	if strings.TrimSpace(id) == "" {
		return fail(CodeMissingParams, "missing id")
	}
	fields := ent.visibleNames(ent.Meta.PropertyFields, view)
	doc, err := ent.eng.Store.FindOne(ctx, ent.Meta.Name, store.Filter{store.IDField: id}, fields)
	if err != nil {
		return fail(CodeError, "find %s: %v", ent.Meta.Name, err)
	}
	if doc == nil {
		return fail(CodeNotFound, "%s not found", ent.Meta.Name)
	}
	return ok(doc)
}

// Count считает документы под поисковым фильтром.
func (ent *Entity) Count(ctx context.Context, query map[string]string, baseFilter store.Filter) *Result {
	search, res := ent.BuildSearchFilter(ctx, query)
	if !resOK(res) {
		return res
	}
	filter := make(store.Filter, len(baseFilter)+len(search))
	for k, v := range baseFilter {
		filter[k] = v
	}
	for k, v := range search {
		filter[k] = v
	}
	total, err := ent.eng.Store.Count(ctx, ent.Meta.Name, filter)
	if err != nil {
		return fail(CodeError, "count %s: %v", ent.Meta.Name, err)
	}
	return &Result{Code: CodeOK, Total: total}
}

// Lookup — подбор по метке для выпадающих списков: substring-матч по ref_label.
func (ent *Entity) Lookup(ctx context.Context, q string, limit int) *Result {
	if ent.Meta.RefLabel == "" {
		return fail(CodeInvalidParams, "%s has no ref_label", ent.Meta.Name)
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	filter := store.Filter{}
	if q = strings.TrimSpace(q); q != "" {
		filter[ent.Meta.RefLabel] = map[string]any{"$regex": "(?i)" + regexp.QuoteMeta(q)}
	}
	docs, err := ent.eng.Store.FindPage(ctx, ent.Meta.Name, filter,
		[]string{ent.Meta.RefLabel},
		[]store.SortKey{{Field: ent.Meta.RefLabel}}, 0, limit)
	if err != nil {
		return fail(CodeError, "find %s: %v", ent.Meta.Name, err)
	}
	type row struct {
		ID    string `json:"id"`
		Label any    `json:"label"`
	}
	out := make([]row, 0, len(docs))
	for _, d := range docs {
		id, _ := d[store.IDField].(string)
		out = append(out, row{ID: id, Label: d[ent.Meta.RefLabel]})
	}
	return ok(out)
}

// ==== мелкие помощники выборок ====

// listAttrs пересекает запрошенные атрибуты со списочными полями, видимыми в
// view; для запрошенных link-полей автоматически дотягивает их соседние
// ref-поля (без них не разрешить ссылку).
func (ent *Entity) listAttrs(requested []string, view string) []string {
	byName := make(map[string]struct{}, len(requested))
	for _, a := range requested {
		byName[a] = struct{}{}
	}
	var out []string
	seen := map[string]struct{}{}
	add := func(name string) {
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	for _, f := range ent.Meta.ListFields {
		if _, want := byName[f.Name]; !want {
			continue
		}
		if !ViewVisible(f.View, view) && !f.IsLink() {
			continue
		}
		add(f.Name)
		if f.IsLink() {
			add(f.Link)
		}
	}
	return out
}

// visibleNames возвращает имена полей, видимых вызывающему; для link-полей
// добавляет соседнее ref-поле.
func (ent *Entity) visibleNames(fields []meta.Field, view string) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(name string) {
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	for _, f := range fields {
		if !ViewVisible(f.View, view) {
			continue
		}
		add(f.Name)
		if f.IsLink() {
			add(f.Link)
		}
	}
	return out
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
