package meta

// Field описывает одно поле сущности.
// Поле бывает трёх видов: обычное (есть Type), ссылка (Ref — имя целевой
// сущности) и link (Link — имя соседнего ref-поля; значение вычисляется по
// ссылке и никогда не хранится).
type Field struct {
	Name       string
	Type       string
	Required   bool
	Default    any
	Ref        string
	Link       string
	DeleteMode string // "" | keep | cascade — только на ref-полях

	// Флаги операций. nil = поле участвует (opt-out, а не opt-in).
	Create *bool
	List   *bool
	Search *bool
	Update *bool
	Clone  *bool

	Sys    bool // служебное: клиенту не отдаём, на запись не принимаем
	Secure bool // секретное: наружу не отдаём никогда
	View   []string
	Group  string
}

// IsRef / IsLink / IsPlain — вид поля.
func (f Field) IsRef() bool   { return f.Ref != "" }
func (f Field) IsLink() bool  { return f.Link != "" }
func (f Field) IsPlain() bool { return !f.IsRef() && !f.IsLink() }

// оп-флаги: nil и true — включено
func enabled(b *bool) bool { return b == nil || *b }

// Schema — сырое объявление сущности до валидации.
type Schema struct {
	Name   string
	Fields []Field

	// Флаги операций сущности, из них собирается mode-строка.
	Create bool
	Read   bool
	Update bool
	Delete bool
	Clone  bool
	Import bool
	Export bool

	// Роли в виде "role:mode[:view]", mode — '*' или подмножество mode сущности.
	Roles []string

	PrimaryKeys []string
	RefLabel    string
	UserField   string
}

// Role — разобранная роль: режим операций и view-строка.
type Role struct {
	Mode string
	View string
}

// Mode-буквы операций в каноническом порядке.
const modeOrder = "crudoie"

// Meta — провалидированная сущность с предвычисленными подмножествами полей.
// После ValidateAll считается неизменяемой на всё время жизни процесса.
type Meta struct {
	Name   string
	Fields []Field

	Mode  string
	Roles map[string]Role

	ClientFields   []Field
	PropertyFields []Field
	CreateFields   []Field
	UpdateFields   []Field
	SearchFields   []Field
	CloneFields    []Field
	ListFields     []Field

	RequiredFieldNames []string
	PrimaryFields      []Field
	FileFields         []Field
	RefFields          []Field
	LinkFields         []Field

	PrimaryKeys []string
	RefLabel    string
	UserField   string

	// Кто на нас ссылается. Наполняется лениво, когда валидируется ссылающаяся
	// сущность, а не при создании нашей.
	RefBy []string

	byName map[string]int // имя поля -> индекс в Fields
}

// Field возвращает поле по имени.
func (m *Meta) Field(name string) (Field, bool) {
	i, ok := m.byName[name]
	if !ok {
		return Field{}, false
	}
	return m.Fields[i], true
}

// CanMode — разрешена ли операция (буква из modeOrder) для роли.
// Роль '*' в mode означает весь mode сущности.
func (m *Meta) CanMode(role Role, op byte) bool {
	mode := role.Mode
	if mode == "*" {
		mode = m.Mode
	}
	for i := 0; i < len(mode); i++ {
		if mode[i] == op {
			return true
		}
	}
	return false
}
