package api

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RoleResolver отдаёт права роли на сущность: mode-строку (буквы crudoie)
// и view-строку видимости. Пустой mode означает "доступа нет".
type RoleResolver interface {
	Resolve(ctx context.Context, role, entity string) (mode, view string)
}

// Grant — права одной роли на одну сущность.
type Grant struct {
	Mode string `yaml:"mode"`
	View string `yaml:"view"`
}

type userSeed struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
	Role  string `yaml:"role"`
}

type catalogSeed struct {
	Users []userSeed                  `yaml:"users"`
	Roles map[string]map[string]Grant `yaml:"roles"`
}

// CatalogResolver — резолвер на YAML-каталоге: токен -> роль,
// роль -> права по сущностям. Ключ "*" в правах — дефолт для всех сущностей.
type CatalogResolver struct {
	tokens map[string]userSeed
	roles  map[string]map[string]Grant
	open   bool // файла нет: работаем без авторизации, всем всё
}

// LoadCatalogResolver читает YAML-каталог пользователей. Пустой путь или
// отсутствующий файл дают "открытый" резолвер.
func LoadCatalogResolver(path string) (*CatalogResolver, error) {
	r := &CatalogResolver{
		tokens: map[string]userSeed{},
		roles:  map[string]map[string]Grant{},
	}
	if strings.TrimSpace(path) == "" {
		r.open = true
		return r, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.open = true
			return r, nil
		}
		return nil, fmt.Errorf("users catalog: %w", err)
	}
	var seed catalogSeed
	if err := yaml.Unmarshal(b, &seed); err != nil {
		return nil, fmt.Errorf("users catalog: %w", err)
	}
	for _, u := range seed.Users {
		if u.Token == "" {
			return nil, fmt.Errorf("users catalog: user %q without token", u.Name)
		}
		r.tokens[u.Token] = u
	}
	r.roles = seed.Roles
	if r.roles == nil {
		r.roles = map[string]map[string]Grant{}
	}
	return r, nil
}

// RoleByToken возвращает роль по токену. Пустой токен в открытом режиме
// получает роль "*" (всё можно).
func (r *CatalogResolver) RoleByToken(token string) (string, bool) {
	if r.open {
		return "*", true
	}
	u, ok := r.tokens[token]
	if !ok {
		return "", false
	}
	return u.Role, true
}

func (r *CatalogResolver) Resolve(_ context.Context, role, entity string) (string, string) {
	if r.open || role == "*" {
		return "*", "*"
	}
	grants, ok := r.roles[role]
	if !ok {
		return "", ""
	}
	g, ok := grants[entity]
	if !ok {
		g, ok = grants["*"]
	}
	if !ok {
		return "", ""
	}
	view := g.View
	if view == "" {
		view = "*"
	}
	return g.Mode, view
}
