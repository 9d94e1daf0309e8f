package stoporder

import (
	"time"

	"github.com/igrmk/treemap/v2"
)

// expiryIndex keeps pending stop orders that carry an expiry ordered by
// expiry time, so the evaluation pass pops due orders from the front instead
// of scanning everything.
type expiryIndex struct {
	byTime *treemap.TreeMap[int64, []*StopOrder]
	count  int
}

func newExpiryIndex() *expiryIndex {
	return &expiryIndex{
		byTime: treemap.New[int64, []*StopOrder](),
	}
}

func (idx *expiryIndex) add(o *StopOrder) {
	if o.Expiry == nil {
		return
	}
	key := o.Expiry.UnixNano()
	orders, _ := idx.byTime.Get(key)
	idx.byTime.Set(key, append(orders, o))
	idx.count++
}

func (idx *expiryIndex) remove(o *StopOrder) {
	if o.Expiry == nil {
		return
	}
	key := o.Expiry.UnixNano()
	orders, found := idx.byTime.Get(key)
	if !found {
		return
	}
	for i, cur := range orders {
		if cur.ID == o.ID {
			orders = append(orders[:i], orders[i+1:]...)
			idx.count--
			break
		}
	}
	if len(orders) == 0 {
		idx.byTime.Del(key)
	} else {
		idx.byTime.Set(key, orders)
	}
}

// collectDue removes and returns every order whose expiry is at or before
// now, earliest first.
func (idx *expiryIndex) collectDue(now time.Time) []*StopOrder {
	cutoff := now.UnixNano()
	var due []*StopOrder
	for {
		it := idx.byTime.Iterator()
		if !it.Valid() || it.Key() > cutoff {
			return due
		}
		due = append(due, it.Value()...)
		idx.count -= len(it.Value())
		idx.byTime.Del(it.Key())
	}
}

func (idx *expiryIndex) size() int {
	return idx.count
}
