package reference

// EnumDirectory описывает один справочник значений (категория, статус и т.п.)
type EnumDirectory struct {
	Name  string     `yaml:"name"`
	Items []EnumItem `yaml:"items"`
}

type EnumItem struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
	// Дополнительные поля: Order, ValidFrom, ValidTo и т.д.
	Order     int    `yaml:"order,omitempty"`
	ValidFrom string `yaml:"valid_from,omitempty"`
	ValidTo   string `yaml:"valid_to,omitempty"`
}

// Codes возвращает список допустимых кодов справочника (в порядке объявления).
func (d EnumDirectory) Codes() []string {
	out := make([]string, 0, len(d.Items))
	for _, it := range d.Items {
		out = append(out, it.Code)
	}
	return out
}

// Has проверяет, что код есть в справочнике.
func (d EnumDirectory) Has(code string) bool {
	for _, it := range d.Items {
		if it.Code == code {
			return true
		}
	}
	return false
}

// Label возвращает человекочитаемое имя кода (или сам код, если не нашли).
func (d EnumDirectory) Label(code string) string {
	for _, it := range d.Items {
		if it.Code == code {
			return it.Name
		}
	}
	return code
}
