package orchestrator

import (
	"context"
	"sync"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
)

// EventSink получает каждое событие run в порядке выдачи.
//
// Ошибка sink логируется и не влияет на run.
type EventSink interface {
	PublishRunEvent(ctx context.Context, event *domain.RunEvent) error
}

// EventLog упорядоченный журнал событий одного run.
//
// Журнал только растёт. Каждый подписчик получает все события с начала,
// поэтому подписаться можно в любой момент, в том числе после завершения run.
type EventLog struct {
	mu     sync.Mutex
	events []domain.RunEvent
	closed bool

	// notify закрывается и заменяется при каждом изменении журнала.
	notify chan struct{}
}

// NewEventLog создаёт пустой журнал.
func NewEventLog() *EventLog {
	return &EventLog{notify: make(chan struct{})}
}

// Append добавляет событие и присваивает ему Seq.
func (l *EventLog) Append(event domain.RunEvent) domain.RunEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	event.Seq = len(l.events) + 1
	l.events = append(l.events, event)
	l.wake()
	return event
}

// Close помечает журнал завершённым. Подписчики дочитывают оставшееся
// и получают закрытый канал.
func (l *EventLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		l.closed = true
		l.wake()
	}
}

func (l *EventLog) wake() {
	close(l.notify)
	l.notify = make(chan struct{})
}

// Events возвращает копию всех событий на данный момент.
func (l *EventLog) Events() []domain.RunEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]domain.RunEvent(nil), l.events...)
}

// Subscribe возвращает канал, в который по порядку приходят все события
// журнала, начиная с первого. Канал закрывается после последнего события
// закрытого журнала или при отмене ctx.
func (l *EventLog) Subscribe(ctx context.Context) <-chan domain.RunEvent {
	out := make(chan domain.RunEvent)

	go func() {
		defer close(out)

		next := 0
		for {
			l.mu.Lock()
			var (
				event   domain.RunEvent
				have    = next < len(l.events)
				closed  = l.closed
				changed = l.notify
			)
			if have {
				event = l.events[next]
			}
			l.mu.Unlock()

			if have {
				select {
				case out <- event:
					next++
				case <-ctx.Done():
					return
				}
				continue
			}
			if closed {
				return
			}

			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
