package types

import (
	"crypto/sha256"
	"fmt"

	"berkut/internal/reference"
)

// Type — именованный тип значения: конвертация и валидация в одной функции.
// Convert никогда не должен паниковать: ошибка валидации — это значение, а не исключение.
type Type struct {
	Name    string
	Convert func(v any) (any, error)
}

// Registry — реестр типов. Строится один раз на старте и передаётся по ссылке
// (никаких глобальных переменных — так проще изолировать тесты).
type Registry struct {
	types map[string]Type
	key   []byte // ключ для password (hmac) и secret (aes)
}

// NewRegistry возвращает реестр со всеми встроенными типами.
// enums — справочники из reference: каждый регистрируется как отдельный тип-категория.
func NewRegistry(secret []byte, enums map[string]reference.EnumDirectory) *Registry {
	// для AES нужен ключ фиксированной длины — нормализуем через sha256
	sum := sha256.Sum256(secret)
	r := &Registry{
		types: make(map[string]Type),
		key:   sum[:],
	}
	r.registerBuiltins()
	for name, dir := range enums {
		r.Register(CatalogEnum(name, dir))
	}
	return r
}

// Register добавляет тип. Повторная регистрация с тем же именем перетирает старый.
func (r *Registry) Register(t Type) {
	r.types[t.Name] = t
}

// Get возвращает тип по имени.
func (r *Registry) Get(name string) (Type, error) {
	t, ok := r.types[name]
	if !ok {
		return Type{}, fmt.Errorf("unknown type %q", name)
	}
	return t, nil
}

// Has — есть ли тип с таким именем (для валидации схем).
func (r *Registry) Has(name string) bool {
	_, ok := r.types[name]
	return ok
}

// Convert прогоняет значение через конвертер типа.
func (r *Registry) Convert(name string, v any) (any, error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return t.Convert(v)
}
