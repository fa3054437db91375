package types

import (
	"errors"
	"strings"
)

// ErrOperatorInjection — значение выглядит как операторный объект хранилища.
var ErrOperatorInjection = errors.New("value looks like a query operator")

// ConvertField прогоняет значение поля через реестр.
// Перед конвертацией отсекаем операторные объекты ({"$gt": ...} и подобные):
// такое значение в теле запроса — попытка пронести фильтр в данные.
func ConvertField(r *Registry, typeName string, v any) (any, error) {
	if hasOperatorKeys(v) {
		return nil, ErrOperatorInjection
	}
	return r.Convert(typeName, v)
}

// LooksLikeOperator — проверка без конвертации, для полей, чьи значения
// разрешаются отдельным проходом (ссылки).
func LooksLikeOperator(v any) bool {
	return hasOperatorKeys(v)
}

// hasOperatorKeys рекурсивно ищет ключи, начинающиеся с зарезервированного '$'.
func hasOperatorKeys(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			if strings.HasPrefix(k, "$") {
				return true
			}
			if hasOperatorKeys(inner) {
				return true
			}
		}
	case []any:
		for _, inner := range t {
			if hasOperatorKeys(inner) {
				return true
			}
		}
	}
	return false
}
