package meta

import (
	"fmt"
	"strings"

	"berkut/internal/types"
)

// Registry — реестр сущностей. Регистрация двухфазная: Add принимает схемы в
// любом порядке (ссылки вперёд разрешены), ValidateAll потом разрешает все
// кросс-ссылки разом. Это снимает проблему курицы и яйца: сущность A может
// ссылаться на B, которая регистрируется позже.
type Registry struct {
	types     *types.Registry
	metas     map[string]*Meta
	order     []string
	validated bool
}

func NewRegistry(t *types.Registry) *Registry {
	return &Registry{
		types: t,
		metas: make(map[string]*Meta),
	}
}

// Add — первая фаза: локальная валидация схемы и построение Meta.
// Кросс-сущностные проверки откладываются до ValidateAll.
func (r *Registry) Add(s Schema) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("entity with empty name")
	}
	if _, dup := r.metas[s.Name]; dup {
		return fmt.Errorf("duplicate entity %q", s.Name)
	}

	m := &Meta{
		Name:        s.Name,
		Fields:      append([]Field(nil), s.Fields...),
		PrimaryKeys: append([]string(nil), s.PrimaryKeys...),
		RefLabel:    s.RefLabel,
		UserField:   s.UserField,
		byName:      make(map[string]int, len(s.Fields)),
	}

	// дубликаты полей
	for i, f := range m.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("%s: field with empty name", s.Name)
		}
		if _, dup := m.byName[f.Name]; dup {
			return fmt.Errorf("%s: duplicate field %q", s.Name, f.Name)
		}
		m.byName[f.Name] = i
	}

	// пофилевая локальная валидация
	for i := range m.Fields {
		f := &m.Fields[i]

		switch {
		case f.IsLink():
			// у link-поля разрешены только name/link/list — всё остальное
			// наследуется от целевого поля на второй фазе
			if err := checkLinkAttrs(*f); err != nil {
				return fmt.Errorf("%s.%s: %w", s.Name, f.Name, err)
			}
		case f.IsRef():
			if f.Type != "" {
				return fmt.Errorf("%s.%s: ref field must not declare a type", s.Name, f.Name)
			}
			switch f.DeleteMode {
			case "", "keep", "cascade":
			default:
				return fmt.Errorf("%s.%s: unknown delete_mode %q (allowed: keep|cascade)", s.Name, f.Name, f.DeleteMode)
			}
		default:
			if f.Type == "" {
				return fmt.Errorf("%s.%s: field has no type", s.Name, f.Name)
			}
			if !r.types.Has(f.Type) {
				return fmt.Errorf("%s.%s: unknown type %q", s.Name, f.Name, f.Type)
			}
			if f.DeleteMode != "" {
				return fmt.Errorf("%s.%s: delete_mode is legal only on ref fields", s.Name, f.Name)
			}
			// дефолт обязан проходить через конвертер своего типа
			if f.Default != nil {
				v, err := r.types.Convert(f.Type, f.Default)
				if err != nil {
					return fmt.Errorf("%s.%s: default value: %v", s.Name, f.Name, err)
				}
				f.Default = v
			}
		}

		// у каждого редактируемого поля должен быть непустой view
		if len(f.View) == 0 && !f.Sys && !f.IsLink() {
			f.View = []string{"*"}
		}
	}

	// первичный ключ: поля существуют и принудительно required
	for _, pk := range m.PrimaryKeys {
		i, ok := m.byName[pk]
		if !ok {
			return fmt.Errorf("%s: primary key field %q is not declared", s.Name, pk)
		}
		m.Fields[i].Required = true
	}

	// ref_label / user_field должны существовать в наборе полей
	if m.RefLabel != "" {
		if _, ok := m.byName[m.RefLabel]; !ok {
			return fmt.Errorf("%s: ref_label field %q is not declared", s.Name, m.RefLabel)
		}
	}
	if m.UserField != "" {
		if _, ok := m.byName[m.UserField]; !ok {
			return fmt.Errorf("%s: user_field %q is not declared", s.Name, m.UserField)
		}
	}

	// mode-строка из флагов операций
	m.Mode = buildMode(s)

	// роли: "name:mode[:view]"
	roles, err := parseRoles(s.Roles, m.Mode)
	if err != nil {
		return fmt.Errorf("%s: %w", s.Name, err)
	}
	m.Roles = roles

	r.metas[s.Name] = m
	r.order = append(r.order, s.Name)
	return nil
}

// ValidateAll — вторая фаза: разрешение ссылок и link-полей, наполнение RefBy,
// предвычисление подмножеств. После неё реестр неизменяем.
func (r *Registry) ValidateAll() error {
	for _, name := range r.order {
		m := r.metas[name]

		for i := range m.Fields {
			f := &m.Fields[i]

			if f.IsRef() {
				target, ok := r.metas[f.Ref]
				if !ok {
					return fmt.Errorf("%s.%s: ref target %q is not registered", name, f.Name, f.Ref)
				}
				if target.RefLabel == "" {
					return fmt.Errorf("%s.%s: ref target %q has no ref_label", name, f.Name, f.Ref)
				}
				appendRefBy(target, name)
				continue
			}

			if f.IsLink() {
				sibling, ok := m.Field(f.Link)
				if !ok {
					return fmt.Errorf("%s.%s: link target field %q is not declared", name, f.Name, f.Link)
				}
				if !sibling.IsRef() {
					return fmt.Errorf("%s.%s: link target field %q is not a ref field", name, f.Name, f.Link)
				}
				target, ok := r.metas[sibling.Ref]
				if !ok {
					return fmt.Errorf("%s.%s: link target entity %q is not registered", name, f.Name, sibling.Ref)
				}
				remote, ok := target.Field(f.Name)
				if !ok {
					return fmt.Errorf("%s.%s: entity %q has no field %q to link", name, f.Name, sibling.Ref, f.Name)
				}
				// link полностью производное: тип и ref от удалённого поля,
				// редактирование и поиск выключены намертво
				f.Type = remote.Type
				f.Ref = remote.Ref
				f.Required = false
				f.View = []string{"*"}
				off := false
				f.Create, f.Search, f.Update, f.Clone = &off, &off, &off, &off
			}
		}
	}

	// подмножества считаем только после разрешения link-полей
	for _, name := range r.order {
		buildSubsets(r.metas[name])
	}
	r.validated = true
	return nil
}

// Get возвращает Meta по имени коллекции.
func (r *Registry) Get(name string) (*Meta, error) {
	m, ok := r.metas[name]
	if !ok {
		return nil, fmt.Errorf("unknown entity %q", name)
	}
	return m, nil
}

func (r *Registry) Has(name string) bool { _, ok := r.metas[name]; return ok }

// Names — имена сущностей в порядке регистрации.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

func appendRefBy(target *Meta, name string) {
	for _, existing := range target.RefBy {
		if existing == name {
			return
		}
	}
	target.RefBy = append(target.RefBy, name)
}

func checkLinkAttrs(f Field) error {
	bad := func(attr string) error {
		return fmt.Errorf("link field may carry only name/link/list, got %s", attr)
	}
	switch {
	case f.Type != "":
		return bad("type")
	case f.Ref != "":
		return bad("ref")
	case f.Required:
		return bad("required")
	case f.Default != nil:
		return bad("default")
	case f.DeleteMode != "":
		return bad("delete_mode")
	case f.Create != nil:
		return bad("create")
	case f.Search != nil:
		return bad("search")
	case f.Update != nil:
		return bad("update")
	case f.Clone != nil:
		return bad("clone")
	case f.Sys:
		return bad("sys")
	case f.Secure:
		return bad("secure")
	case len(f.View) != 0:
		return bad("view")
	case f.Group != "":
		return bad("group")
	}
	return nil
}

func buildMode(s Schema) string {
	var sb strings.Builder
	for _, op := range []struct {
		on bool
		ch byte
	}{
		{s.Create, 'c'}, {s.Read, 'r'}, {s.Update, 'u'}, {s.Delete, 'd'},
		{s.Clone, 'o'}, {s.Import, 'i'}, {s.Export, 'e'},
	} {
		if op.on {
			sb.WriteByte(op.ch)
		}
	}
	return sb.String()
}

func parseRoles(specs []string, entityMode string) (map[string]Role, error) {
	out := make(map[string]Role, len(specs))
	for _, spec := range specs {
		parts := strings.Split(strings.TrimSpace(spec), ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("bad role spec %q (want role:mode[:view])", spec)
		}
		name := strings.TrimSpace(parts[0])
		mode := strings.TrimSpace(parts[1])
		if name == "" || mode == "" {
			return nil, fmt.Errorf("bad role spec %q", spec)
		}
		if mode != "*" {
			for i := 0; i < len(mode); i++ {
				if !strings.ContainsRune(entityMode, rune(mode[i])) {
					return nil, fmt.Errorf("role %q: mode %q is not a subset of entity mode %q", name, mode, entityMode)
				}
			}
		}
		view := "*"
		if len(parts) == 3 && strings.TrimSpace(parts[2]) != "" {
			view = strings.TrimSpace(parts[2])
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("duplicate role %q", name)
		}
		out[name] = Role{Mode: mode, View: view}
	}
	return out, nil
}

// buildSubsets предвычисляет производные наборы полей — по разу на процесс,
// чтобы на каждом запросе не фильтровать заново.
func buildSubsets(m *Meta) {
	for _, f := range m.Fields {
		if !f.Sys && !f.Secure {
			m.ClientFields = append(m.ClientFields, f)
		}
		if !f.Secure {
			m.PropertyFields = append(m.PropertyFields, f)
		}
		if !f.Sys && !f.IsLink() && enabled(f.Create) {
			m.CreateFields = append(m.CreateFields, f)
		}
		if !f.Sys && !f.IsLink() && enabled(f.Update) {
			m.UpdateFields = append(m.UpdateFields, f)
		}
		if !f.Secure && !f.IsLink() && enabled(f.Search) {
			m.SearchFields = append(m.SearchFields, f)
		}
		if !f.Sys && !f.IsLink() && enabled(f.Clone) {
			m.CloneFields = append(m.CloneFields, f)
		}
		if !f.Secure && enabled(f.List) {
			m.ListFields = append(m.ListFields, f)
		}
		if f.Required {
			m.RequiredFieldNames = append(m.RequiredFieldNames, f.Name)
		}
		if f.Type == "file" {
			m.FileFields = append(m.FileFields, f)
		}
		if f.IsRef() && !f.IsLink() {
			m.RefFields = append(m.RefFields, f)
		}
		if f.IsLink() {
			m.LinkFields = append(m.LinkFields, f)
		}
	}
	for _, pk := range m.PrimaryKeys {
		if f, ok := m.Field(pk); ok {
			m.PrimaryFields = append(m.PrimaryFields, f)
		}
	}
}
