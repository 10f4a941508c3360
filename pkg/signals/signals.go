package signals

import "sync"

// Handler 信号回调，sender 为触发方，params 为附加参数
type Handler func(sender any, params ...any)

type entry struct {
	id int
	fn Handler
}

// Bus 进程内信号总线，按信号名广播
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]entry
	nextID   int
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]entry)}
}

var global = NewBus()

// Sig 返回全局信号总线
func Sig() *Bus { return global }

// Connect 注册信号回调，返回用于 Remove 的句柄
func (b *Bus) Connect(name string, h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[name] = append(b.handlers[name], entry{id: b.nextID, fn: h})
	return b.nextID
}

// Emit 同步触发信号的所有回调
func (b *Bus) Emit(name string, sender any, params ...any) {
	b.mu.RLock()
	hs := make([]entry, len(b.handlers[name]))
	copy(hs, b.handlers[name])
	b.mu.RUnlock()
	for _, e := range hs {
		e.fn(sender, params...)
	}
}

// Remove 注销单个回调
func (b *Bus) Remove(name string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hs := b.handlers[name]
	for i, e := range hs {
		if e.id == id {
			b.handlers[name] = append(hs[:i:i], hs[i+1:]...)
			break
		}
	}
	if len(b.handlers[name]) == 0 {
		delete(b.handlers, name)
	}
}

// Disconnect 移除某个信号的全部回调
func (b *Bus) Disconnect(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, name)
}
