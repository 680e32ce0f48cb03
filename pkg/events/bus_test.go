package events_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lissto-dev/imagecache/pkg/events"
)

var _ = Describe("Cache Event Bus", func() {
	Describe("Matches", func() {
		DescribeTable("targeting",
			func(e events.Event, expected bool) {
				Expect(events.Matches("hero-banner", e)).To(Equal(expected))
			},
			Entry("exact key", events.NewInvalidate("hero-banner"), true),
			Entry("other key", events.Event{Type: events.TypeInvalidate, Scope: events.ScopeKey, Key: "logo-primary"}, false),
			Entry("matching prefix", events.Event{Type: events.TypeInvalidate, Scope: events.ScopePrefix, Prefix: "hero"}, true),
			Entry("non-matching prefix", events.NewInvalidatePrefix("logo"), false),
			Entry("contained category", events.NewInvalidateCategory("banner"), true),
			Entry("other category", events.NewInvalidateCategory("experience"), false),
			Entry("untargeted clear", events.NewClear(), true),
			Entry("global update", events.NewUpdate(), true),
			Entry("keyed update", events.Event{Type: events.TypeUpdate, Scope: events.ScopeKey, Key: "hero-banner"}, false),
			Entry("untargeted invalidate", events.Event{Type: events.TypeInvalidate, Scope: events.ScopeGlobal}, true),
		)
	})

	Describe("Dispatch", func() {
		var bus *events.Bus

		BeforeEach(func() {
			bus = events.NewBus()
		})

		It("delivers to every listener", func() {
			var a, b int
			bus.Subscribe("a", func(events.Event) { a++ })
			bus.Subscribe("b", func(events.Event) { b++ })

			bus.Dispatch(events.NewClear())
			Expect(a).To(Equal(1))
			Expect(b).To(Equal(1))
		})

		It("isolates a panicking listener and keeps it subscribed", func() {
			var delivered, panics int
			bus.Subscribe("bad", func(events.Event) {
				panics++
				panic("boom")
			})
			bus.Subscribe("good", func(events.Event) { delivered++ })

			Expect(func() { bus.Dispatch(events.NewClear()) }).ToNot(Panic())
			bus.Dispatch(events.NewClear())

			Expect(delivered).To(Equal(2))
			Expect(panics).To(Equal(2))
			Expect(bus.Len()).To(Equal(2))
		})

		It("stops delivering after unsubscribe", func() {
			var count int
			unsubscribe := bus.Subscribe("a", func(events.Event) { count++ })
			unsubscribe()
			unsubscribe()

			bus.Dispatch(events.NewClear())
			Expect(count).To(BeZero())
			Expect(bus.Len()).To(BeZero())
		})
	})

	Describe("SubscribeKey", func() {
		It("invokes the callback only for matching events", func() {
			bus := events.NewBus()
			var received []events.Event
			unsubscribe := bus.SubscribeKey("hero-banner", func(e events.Event) {
				received = append(received, e)
			})
			DeferCleanup(unsubscribe)

			bus.Dispatch(events.Event{Type: events.TypeInvalidate, Scope: events.ScopePrefix, Prefix: "hero"})
			bus.Dispatch(events.Event{Type: events.TypeInvalidate, Scope: events.ScopeKey, Key: "logo-primary"})

			Expect(received).To(HaveLen(1))
			Expect(received[0].Prefix).To(Equal("hero"))
		})

		It("allows several readers of the same key", func() {
			bus := events.NewBus()
			var first, second int
			bus.SubscribeKey("logo", func(events.Event) { first++ })
			bus.SubscribeKey("logo", func(events.Event) { second++ })

			bus.Dispatch(events.NewInvalidate("logo"))
			Expect(first).To(Equal(1))
			Expect(second).To(Equal(1))
		})
	})
})
