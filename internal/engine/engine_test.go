package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"berkut/internal/meta"
	"berkut/internal/store"
	"berkut/internal/types"
)

// тестовый контур: role <- user (ref без режима удаления, т.е. блокирующий),
// user <- team.lead (cascade), user <- project.owner (keep)
func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	typeReg := types.NewRegistry([]byte("test-key"), nil)
	metaReg := meta.NewRegistry(typeReg)

	schemas := []meta.Schema{
		{
			Name: "role",
			Fields: []meta.Field{
				{Name: "role_name", Type: "string"},
				{Name: "level", Type: "int"},
			},
			Create: true, Read: true, Update: true, Delete: true,
			RefLabel: "role_name",
		},
		{
			Name: "user",
			Fields: []meta.Field{
				{Name: "email", Type: "email"},
				{Name: "name", Type: "string"},
				{Name: "age", Type: "int"},
				{Name: "note", Type: "text"},
				{Name: "salary", Type: "money", View: []string{"hr", "admin"}},
				{Name: "password", Type: "password", Secure: true},
				{Name: "active", Type: "bool", Default: "true"},
				{Name: "role", Ref: "role"},
				{Name: "role_name", Link: "role"},
			},
			Create: true, Read: true, Update: true, Delete: true, Clone: true,
			PrimaryKeys: []string{"email"},
			RefLabel:    "name",
		},
		{
			Name: "team",
			Fields: []meta.Field{
				{Name: "title", Type: "string"},
				{Name: "lead", Ref: "user", DeleteMode: "cascade"},
			},
			Create: true, Read: true, Update: true, Delete: true,
			RefLabel: "title",
		},
		{
			Name: "project",
			Fields: []meta.Field{
				{Name: "code", Type: "slug"},
				{Name: "owner", Ref: "user", DeleteMode: "keep"},
			},
			Create: true, Read: true, Update: true, Delete: true,
			PrimaryKeys: []string{"code"},
			RefLabel:    "code",
		},
	}
	for _, s := range schemas {
		require.NoError(t, metaReg.Add(s))
	}
	require.NoError(t, metaReg.ValidateAll())

	return New(typeReg, metaReg, store.NewMemory())
}

func mustEntity(t *testing.T, e *Engine, name string) *Entity {
	t.Helper()
	ent, err := e.Entity(name)
	require.NoError(t, err)
	return ent
}

func createOK(t *testing.T, ent *Entity, doc map[string]any) store.Doc {
	t.Helper()
	res := ent.Create(context.Background(), doc, "*")
	require.Equal(t, CodeOK, res.Code, "err: %s", res.Err)
	out, ok := res.Data.(store.Doc)
	require.True(t, ok)
	return out
}

func docID(t *testing.T, d store.Doc) string {
	t.Helper()
	id, ok := d[store.IDField].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)
	return id
}

func TestCreateDefaultsAndID(t *testing.T) {
	e := newTestEngine(t)
	user := mustEntity(t, e, "user")

	created := createOK(t, user, map[string]any{
		"email": "bob@example.com",
		"name":  "Bob",
	})
	assert.NotEmpty(t, created[store.IDField])
	// дефолт применился и прошёл через конвертер bool
	assert.Equal(t, true, created["active"])
}

func TestCreateDuplicatePK(t *testing.T) {
	e := newTestEngine(t)
	user := mustEntity(t, e, "user")

	createOK(t, user, map[string]any{"email": "bob@example.com", "name": "Bob"})
	res := user.Create(context.Background(), map[string]any{
		"email": "bob@example.com", "name": "Other Bob",
	}, "*")
	assert.Equal(t, CodeDuplicate, res.Code)
}

func TestCreateMissingRequired(t *testing.T) {
	e := newTestEngine(t)
	user := mustEntity(t, e, "user")

	res := user.Create(context.Background(), map[string]any{"name": "NoMail"}, "*")
	require.Equal(t, CodeMissingParams, res.Code)
	assert.Contains(t, res.Err, "email")

	// пустая строка — тоже «отсутствует»
	res = user.Create(context.Background(), map[string]any{"email": "  ", "name": "x"}, "*")
	assert.Equal(t, CodeMissingParams, res.Code)
}

func TestCreateInvalidFields(t *testing.T) {
	e := newTestEngine(t)
	user := mustEntity(t, e, "user")

	res := user.Create(context.Background(), map[string]any{
		"email": "not-an-email",
		"name":  "Bob",
		"age":   "1.5",
	}, "*")
	require.Equal(t, CodeInvalidParams, res.Code)
	// имена невалидных полей отсортированы
	assert.Contains(t, res.Err, "age, email")
}

func TestCreateOperatorInjection(t *testing.T) {
	e := newTestEngine(t)
	user := mustEntity(t, e, "user")
	role := mustEntity(t, e, "role")

	createOK(t, role, map[string]any{"role_name": "admin", "level": 1})

	res := user.Create(context.Background(), map[string]any{
		"email": "bob@example.com",
		"name":  "Bob",
		"role":  map[string]any{"$ne": ""},
	}, "*")
	require.Equal(t, CodeInvalidParams, res.Code)
	assert.Contains(t, res.Err, "role")
}

func TestRefResolution(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	user := mustEntity(t, e, "user")
	role := mustEntity(t, e, "role")

	admin := createOK(t, role, map[string]any{"role_name": "admin", "level": 1})
	adminID := docID(t, admin)

	// по метке: значение переписывается на канонический id
	created := createOK(t, user, map[string]any{
		"email": "bob@example.com", "name": "Bob", "role": "admin",
	})
	assert.Equal(t, adminID, created["role"])

	// по id — остаётся id
	created2 := createOK(t, user, map[string]any{
		"email": "eva@example.com", "name": "Eva", "role": adminID,
	})
	assert.Equal(t, adminID, created2["role"])

	// несуществующая метка
	res := user.Create(ctx, map[string]any{
		"email": "x@example.com", "name": "X", "role": "no_such_role",
	}, "*")
	assert.Equal(t, CodeRefNotFound, res.Code)

	// неоднозначная метка
	createOK(t, role, map[string]any{"role_name": "dup", "level": 2})
	createOK(t, role, map[string]any{"role_name": "dup", "level": 3})
	res = user.Create(ctx, map[string]any{
		"email": "y@example.com", "name": "Y", "role": "dup",
	}, "*")
	assert.Equal(t, CodeRefNotUnique, res.Code)
}

func TestRefListResolution(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	team := mustEntity(t, e, "team")
	user := mustEntity(t, e, "user")

	bob := createOK(t, user, map[string]any{"email": "bob@example.com", "name": "Bob"})
	eva := createOK(t, user, map[string]any{"email": "eva@example.com", "name": "Eva"})

	created := createOK(t, team, map[string]any{
		"title": "Core",
		"lead":  []any{docID(t, bob), docID(t, eva)},
	})
	assert.Len(t, created["lead"], 2)

	res := team.Create(ctx, map[string]any{
		"title": "Broken",
		"lead":  []any{docID(t, bob), "missing-id"},
	}, "*")
	assert.Equal(t, CodeRefNotFound, res.Code)
}

func TestUpdatePreserveEmpty(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	user := mustEntity(t, e, "user")

	created := createOK(t, user, map[string]any{
		"email": "bob@example.com", "name": "Bob", "note": "keep me",
	})
	id := docID(t, created)

	// отсутствующее поле не трогается
	res := user.Update(ctx, id, map[string]any{"name": "Bobby"}, "*")
	require.Equal(t, CodeOK, res.Code, "err: %s", res.Err)
	updated := res.Data.(store.Doc)
	assert.Equal(t, "Bobby", updated["name"])
	assert.Equal(t, "keep me", updated["note"])

	// явная пустая строка очищает
	res = user.Update(ctx, id, map[string]any{"note": ""}, "*")
	require.Equal(t, CodeOK, res.Code)
	assert.Equal(t, "", res.Data.(store.Doc)["note"])
}

func TestUpdateByPrimaryKey(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	user := mustEntity(t, e, "user")

	createOK(t, user, map[string]any{"email": "bob@example.com", "name": "Bob"})

	// цель адресуется кортежем первичного ключа, без id
	res := user.Update(ctx, "", map[string]any{
		"email": "bob@example.com", "name": "Robert",
	}, "*")
	require.Equal(t, CodeOK, res.Code, "err: %s", res.Err)
	assert.Equal(t, "Robert", res.Data.(store.Doc)["name"])

	res = user.Update(ctx, "", map[string]any{"name": "nobody"}, "*")
	assert.Equal(t, CodeMissingParams, res.Code)

	res = user.Update(ctx, "no-such-id", map[string]any{"name": "x"}, "*")
	assert.Equal(t, CodeNotFound, res.Code)
}

func TestUpdateViewFiltering(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	user := mustEntity(t, e, "user")

	created := createOK(t, user, map[string]any{"email": "bob@example.com", "name": "Bob"})
	id := docID(t, created)

	// salary видна только hr/admin: для чужой view патч пустеет
	res := user.Update(ctx, id, map[string]any{"salary": 100.5}, "public")
	assert.Equal(t, CodeMissingParams, res.Code)

	res = user.Update(ctx, id, map[string]any{"salary": 100.567}, "hr")
	require.Equal(t, CodeOK, res.Code)
	assert.Equal(t, 100.57, res.Data.(store.Doc)["salary"])
}

func TestBatchUpdate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	user := mustEntity(t, e, "user")

	a := createOK(t, user, map[string]any{"email": "a@example.com", "name": "A"})
	b := createOK(t, user, map[string]any{"email": "b@example.com", "name": "B"})

	res := user.BatchUpdate(ctx, []string{docID(t, a), docID(t, b)},
		map[string]any{"note": "bulk"}, "*")
	require.Equal(t, CodeOK, res.Code, "err: %s", res.Err)
	assert.Equal(t, int64(2), res.Total)

	res = user.BatchUpdate(ctx, []string{" ", ""}, map[string]any{"note": "x"}, "*")
	assert.Equal(t, CodeInvalidParams, res.Code)
}

func TestDeleteBlockedByRefs(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	user := mustEntity(t, e, "user")
	role := mustEntity(t, e, "role")

	admin := createOK(t, role, map[string]any{"role_name": "admin", "level": 1})
	createOK(t, user, map[string]any{
		"email": "bob@example.com", "name": "Bob", "role": docID(t, admin),
	})

	// user.role без delete_mode — удаление роли блокируется
	res := role.Delete(ctx, []string{docID(t, admin)})
	require.Equal(t, CodeHasRefs, res.Code)
	// в ошибке перечислены блокирующие документы по метке
	assert.Contains(t, res.Err, "user(Bob)")
}

func TestDeleteCascadeAndKeep(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	user := mustEntity(t, e, "user")
	team := mustEntity(t, e, "team")
	project := mustEntity(t, e, "project")

	bob := createOK(t, user, map[string]any{"email": "bob@example.com", "name": "Bob"})
	bobID := docID(t, bob)
	created := createOK(t, team, map[string]any{"title": "Core", "lead": bobID})
	proj := createOK(t, project, map[string]any{"code": "apollo", "owner": bobID})

	// team.lead cascade, project.owner keep: удаление проходит,
	// команда уезжает вместе с пользователем, проект остаётся
	res := user.Delete(ctx, []string{bobID})
	require.Equal(t, CodeOK, res.Code, "err: %s", res.Err)
	assert.Equal(t, int64(1), res.Total)

	gone, err := e.Store.FindOne(ctx, "team", store.Filter{store.IDField: docID(t, created)}, nil)
	require.NoError(t, err)
	assert.Nil(t, gone)

	still, err := e.Store.FindOne(ctx, "project", store.Filter{store.IDField: docID(t, proj)}, nil)
	require.NoError(t, err)
	require.NotNil(t, still)
	assert.Equal(t, bobID, still["owner"]) // осиротевшая ссылка сохраняется как есть
}

func TestListPagination(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	user := mustEntity(t, e, "user")

	for i := 0; i < 7; i++ {
		createOK(t, user, map[string]any{
			"email": fmt.Sprintf("u%d@example.com", i),
			"name":  fmt.Sprintf("User %02d", i),
		})
	}

	query := func(page string) map[string]string {
		return map[string]string{
			"attr_names": "name,email",
			"sort_by":    "name",
			"desc":       "false",
			"page":       page,
			"limit":      "3",
		}
	}

	var seen []string
	for _, page := range []string{"1", "2", "3"} {
		res := user.List(ctx, query(page), store.Filter{}, "*")
		require.Equal(t, CodeOK, res.Code, "err: %s", res.Err)
		assert.Equal(t, int64(7), res.Total)
		for _, d := range res.Data.([]store.Doc) {
			seen = append(seen, d["name"].(string))
		}
	}
	// страницы не пересекаются и вместе дают всё множество
	require.Len(t, seen, 7)
	uniq := map[string]struct{}{}
	for _, n := range seen {
		uniq[n] = struct{}{}
	}
	assert.Len(t, uniq, 7)
	// сортировка стабильна по имени
	assert.Equal(t, "User 00", seen[0])
	assert.Equal(t, "User 06", seen[6])
}

func TestListRequiresParams(t *testing.T) {
	e := newTestEngine(t)
	user := mustEntity(t, e, "user")

	res := user.List(context.Background(), map[string]string{
		"attr_names": "name",
	}, store.Filter{}, "*")
	require.Equal(t, CodeMissingParams, res.Code)
	assert.Contains(t, res.Err, "sort_by")
	assert.Contains(t, res.Err, "desc")
}

func TestListViewHidesFields(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	user := mustEntity(t, e, "user")

	createOK(t, user, map[string]any{
		"email": "bob@example.com", "name": "Bob", "salary": 150.0,
	})

	q := map[string]string{
		"attr_names": "name,salary",
		"sort_by":    "name",
		"desc":       "false",
	}
	res := user.List(ctx, q, store.Filter{}, "public")
	require.Equal(t, CodeOK, res.Code, "err: %s", res.Err)
	row := res.Data.([]store.Doc)[0]
	assert.NotContains(t, row, "salary")

	res = user.List(ctx, q, store.Filter{}, "hr")
	require.Equal(t, CodeOK, res.Code)
	row = res.Data.([]store.Doc)[0]
	assert.Equal(t, 150.0, row["salary"])
}

func TestSearchZeroConvention(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	user := mustEntity(t, e, "user")

	createOK(t, user, map[string]any{"email": "a@example.com", "name": "A", "age": 0})
	createOK(t, user, map[string]any{"email": "b@example.com", "name": "B", "age": 30})

	// голый ноль на числовом поле — «не задано», фильтра нет
	f, res := user.BuildSearchFilter(ctx, map[string]string{"age": "0"})
	require.Nil(t, res)
	assert.NotContains(t, f, "age")

	// ноль с оператором сравнения — полноценный фильтр
	f, res = user.BuildSearchFilter(ctx, map[string]string{"age": ">=0"})
	require.Nil(t, res)
	assert.Equal(t, map[string]any{"$gte": float64(0)}, f["age"])

	// ноль в списке тоже
	f, res = user.BuildSearchFilter(ctx, map[string]string{"age": "0,30"})
	require.Nil(t, res)
	assert.Equal(t, map[string]any{"$in": []any{float64(0), float64(30)}}, f["age"])
}

func TestSearchStringAndRef(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	user := mustEntity(t, e, "user")
	role := mustEntity(t, e, "role")

	admin := createOK(t, role, map[string]any{"role_name": "Administrator", "level": 9})
	createOK(t, user, map[string]any{
		"email": "bob@example.com", "name": "Bob Marley", "role": docID(t, admin),
	})
	createOK(t, user, map[string]any{"email": "eva@example.com", "name": "Eva"})

	q := map[string]string{
		"attr_names": "name",
		"sort_by":    "name",
		"desc":       "false",
		"name":       "marley", // substring, регистронезависимо
	}
	res := user.List(ctx, q, store.Filter{}, "*")
	require.Equal(t, CodeOK, res.Code, "err: %s", res.Err)
	require.Equal(t, int64(1), res.Total)

	// поиск по ref-полю идёт через метки целевой сущности
	q = map[string]string{
		"attr_names": "name",
		"sort_by":    "name",
		"desc":       "false",
		"role":       "admin",
	}
	res = user.List(ctx, q, store.Filter{}, "*")
	require.Equal(t, CodeOK, res.Code, "err: %s", res.Err)
	assert.Equal(t, int64(1), res.Total)

	// метка без совпадений даёт пустой результат, а не полный список
	q["role"] = "no-such"
	res = user.List(ctx, q, store.Filter{}, "*")
	require.Equal(t, CodeOK, res.Code)
	assert.Equal(t, int64(0), res.Total)
}

func TestReadEntityResolvesRefsAndLinks(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	user := mustEntity(t, e, "user")
	role := mustEntity(t, e, "role")

	admin := createOK(t, role, map[string]any{"role_name": "Administrator", "level": 9})
	adminID := docID(t, admin)
	bob := createOK(t, user, map[string]any{
		"email": "bob@example.com", "name": "Bob", "role": adminID,
	})

	res := user.ReadEntity(ctx, docID(t, bob), "*")
	require.Equal(t, CodeOK, res.Code, "err: %s", res.Err)
	doc := res.Data.(store.Doc)

	// ссылка показана меткой, сырой id уехал в теневой атрибут
	assert.Equal(t, "Administrator", doc["role"])
	assert.Equal(t, adminID, doc["role_id"])
	// link-поле дочитано из целевой сущности
	assert.Equal(t, "Administrator", doc["role_name"])
	// секретное поле не отдаётся
	assert.NotContains(t, doc, "password")

	res = user.ReadEntity(ctx, "missing", "*")
	assert.Equal(t, CodeNotFound, res.Code)
}

func TestReadPropertyRaw(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	user := mustEntity(t, e, "user")
	role := mustEntity(t, e, "role")

	admin := createOK(t, role, map[string]any{"role_name": "Administrator", "level": 9})
	adminID := docID(t, admin)
	bob := createOK(t, user, map[string]any{
		"email": "bob@example.com", "name": "Bob", "role": adminID,
	})

	res := user.ReadProperty(ctx, docID(t, bob), "*")
	require.Equal(t, CodeOK, res.Code, "err: %s", res.Err)
	doc := res.Data.(store.Doc)
	// property — сырые значения: ссылка остаётся идентификатором
	assert.Equal(t, adminID, doc["role"])
	assert.NotContains(t, doc, "password")
}

func TestClone(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	user := mustEntity(t, e, "user")

	bob := createOK(t, user, map[string]any{"email": "bob@example.com", "name": "Bob"})

	res := user.Clone(ctx, docID(t, bob), map[string]any{
		"email": "bob2@example.com", "name": "Bob Copy",
	}, "*")
	require.Equal(t, CodeOK, res.Code, "err: %s", res.Err)
	cloned := res.Data.(store.Doc)
	assert.NotEqual(t, docID(t, bob), docID(t, cloned))

	res = user.Clone(ctx, "", map[string]any{"email": "x@example.com", "name": "X"}, "*")
	assert.Equal(t, CodeMissingParams, res.Code)
}

func TestHooks(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	var beforeSeen, afterSeen bool
	e.SetHooks("user", &Hooks{
		BeforeCreate: func(_ context.Context, _ *Entity, args *HookArgs) *Result {
			beforeSeen = true
			if args.Doc["name"] == "Voldemort" {
				return fail(CodeNoPerm, "that name is not allowed")
			}
			return nil
		},
		AfterCreate: func(_ context.Context, _ *Entity, args *HookArgs) *Result {
			afterSeen = len(args.Docs) == 1
			return nil
		},
		ListQuery: func(_ context.Context, _ *Entity, args *HookArgs) *Result {
			args.Filter["name"] = "Bob"
			return nil
		},
	})
	user := mustEntity(t, e, "user")

	createOK(t, user, map[string]any{"email": "bob@example.com", "name": "Bob"})
	assert.True(t, beforeSeen)
	assert.True(t, afterSeen)

	res := user.Create(ctx, map[string]any{"email": "v@example.com", "name": "Voldemort"}, "*")
	assert.Equal(t, CodeNoPerm, res.Code)

	createOK(t, user, map[string]any{"email": "eva@example.com", "name": "Eva"})
	listRes := user.List(ctx, map[string]string{
		"attr_names": "name", "sort_by": "name", "desc": "false",
	}, store.Filter{}, "*")
	require.Equal(t, CodeOK, listRes.Code, "err: %s", listRes.Err)
	// хук дописал фильтр: Eva отрезана
	assert.Equal(t, int64(1), listRes.Total)
}

func TestCountAndLookup(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	user := mustEntity(t, e, "user")

	createOK(t, user, map[string]any{"email": "bob@example.com", "name": "Bob"})
	createOK(t, user, map[string]any{"email": "eva@example.com", "name": "Eva"})

	res := user.Count(ctx, map[string]string{"name": "bob"}, store.Filter{})
	require.Equal(t, CodeOK, res.Code)
	assert.Equal(t, int64(1), res.Total)

	res = user.Lookup(ctx, "ev", 10)
	require.Equal(t, CodeOK, res.Code, "err: %s", res.Err)
}
