package cache

import "sync"

// Update 一次发布：值及其版本号
type Update[T any] struct {
	Value   T
	Version uint64
}

// Observable 单写多读的值容器
//
// 初始为空；Publish 只在值变化时更新版本并通知订阅者，Set 无条件替换。
// 每个订阅者只保留最新一次未读的发布，不阻塞发布方。
type Observable[T any] struct {
	mu      sync.RWMutex
	value   T
	present bool
	version uint64
	equal   func(a, b T) bool
	subs    map[int]chan Update[T]
	nextID  int
}

// NewObservable 创建容器；equal 用于 Publish 的去重判断
func NewObservable[T any](equal func(a, b T) bool) *Observable[T] {
	return &Observable[T]{
		equal: equal,
		subs:  make(map[int]chan Update[T]),
	}
}

// Get 当前值与版本号（版本 0 表示尚未发布）
func (o *Observable[T]) Get() (T, uint64) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.value, o.version
}

// Present 是否已有值
func (o *Observable[T]) Present() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.present
}

// Publish 值与当前值不同时才发布；返回是否发布
func (o *Observable[T]) Publish(v T) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.present && o.equal != nil && o.equal(o.value, v) {
		return false
	}
	o.store(v)
	return true
}

// Set 无条件替换当前值
func (o *Observable[T]) Set(v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.store(v)
}

// store 调用方持有写锁；只有 store 向订阅通道发送，先取出旧值再放入新值不会阻塞
func (o *Observable[T]) store(v T) {
	o.value = v
	o.present = true
	o.version++
	upd := Update[T]{Value: v, Version: o.version}
	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		ch <- upd
	}
}

// Subscribe 订阅后续的值变化（最新值覆盖未读的旧值）；调用 cancel 取消订阅并关闭通道
func (o *Observable[T]) Subscribe() (<-chan Update[T], func()) {
	ch := make(chan Update[T], 1)

	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = ch
	o.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers 当前订阅者数量
func (o *Observable[T]) Subscribers() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.subs)
}
