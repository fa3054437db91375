package store

import "context"

// Doc — документ коллекции. Идентификатор лежит в поле "_id".
type Doc = map[string]any

// Filter — структурный предикат над документами. Грамматика фиксированная:
//
//	{"name": "Bob"}                  — равенство
//	{"age": {"$gte": 18}}            — диапазон ($gt/$gte/$lt/$lte)
//	{"_id": {"$in": [...]}}          — принадлежность множеству ($in/$nin)
//	{"tags": {"$all": [...]}}        — "все из" для массивов
//	{"name": {"$regex": "(?i)bob"}}  — регулярка по строке
//	{"x": {"$ne": 1}}                — неравенство
//	{"$or": [f1, f2]}                — дизъюнкция
//
// Хранилище не знает про сущности — фильтры для него непрозрачные предикаты.
type Filter = map[string]any

// SortKey — один ключ сортировки.
type SortKey struct {
	Field string
	Desc  bool
}

// IDField — имя служебного поля идентификатора документа.
const IDField = "_id"

// Store — «сырой» документный движок: create/find/update/delete/count по
// именованным коллекциям. Атомарность — на уровне одного вызова, не больше.
type Store interface {
	// Create вставляет документ и возвращает его с присвоенным _id.
	Create(ctx context.Context, collection string, doc Doc) (Doc, error)
	// Update применяет patch ($set-семантика) ко всем документам под фильтром.
	Update(ctx context.Context, collection string, filter Filter, patch Doc) (int64, error)
	// Delete удаляет документы под фильтром.
	Delete(ctx context.Context, collection string, filter Filter) (int64, error)

	// Find возвращает документы под фильтром; fields — проекция (пусто = все поля).
	Find(ctx context.Context, collection string, filter Filter, fields []string) ([]Doc, error)
	// FindOne — первый документ под фильтром, nil если не нашли.
	FindOne(ctx context.Context, collection string, filter Filter, fields []string) (Doc, error)
	// FindSort — как Find, но с сортировкой.
	FindSort(ctx context.Context, collection string, filter Filter, fields []string, sort []SortKey) ([]Doc, error)
	// FindPage — страница результатов: сортировка + offset/limit.
	FindPage(ctx context.Context, collection string, filter Filter, fields []string, sort []SortKey, offset, limit int) ([]Doc, error)

	Count(ctx context.Context, collection string, filter Filter) (int64, error)
	// Sum — сумма числового поля по документам под фильтром.
	Sum(ctx context.Context, collection string, filter Filter, field string) (float64, error)

	// Операции над массивами внутри документов.
	Push(ctx context.Context, collection string, filter Filter, field string, element any) error
	Pull(ctx context.Context, collection string, filter Filter, field string, element any) error
	AddToSet(ctx context.Context, collection string, filter Filter, field string, element any) error
}
