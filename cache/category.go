package cache

type CategoryKind string

const (
	KindIncome  CategoryKind = "income"
	KindExpense CategoryKind = "expense"
)

type Category struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Kind CategoryKind `json:"kind"`
}

// Categories is the per-user category cache.
type Categories = Store[Category]

func NewCategories() *Categories {
	return NewStore[Category]()
}
