package worker

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("worker internals", func() {
	It("deletes image caches of other versions on activate", func() {
		w := newWorker(Config{Version: "v2"}, nil)
		w.storage.Open("image-cache-v1")
		w.storage.Open("image-cache-v2")
		w.storage.Open(PlaceholderCacheName)

		w.activate()

		Expect(w.storage.Keys()).To(ConsistOf("image-cache-v2", PlaceholderCacheName))
	})

	It("times out when the worker never answers", func() {
		w := newWorker(Config{MessageTimeout: 50 * time.Millisecond}, nil)
		defer close(w.done)
		c := newClient(w)

		start := time.Now()
		Expect(c.UpdateCacheVersion(context.Background(), "v2")).To(BeFalse())
		Expect(time.Since(start)).To(BeNumerically(">=", 50*time.Millisecond))

		// a late reply has no waiter and is dropped
		w.replies <- Reply{ID: "late", Action: ActionUpdateCacheVersion, Status: StatusSuccess}
		Eventually(func() int { return len(w.replies) }).Should(BeZero())
		c.mu.Lock()
		defer c.mu.Unlock()
		Expect(c.pending).To(BeEmpty())
	})

	It("answers a rejected version with a failure status", func() {
		w := newWorker(Config{}, nil)
		w.handleMessage(context.Background(), Message{ID: "m1", Action: ActionUpdateCacheVersion, Version: " "})

		var reply Reply
		Eventually(w.replies).Should(Receive(&reply))
		Expect(reply.ID).To(Equal("m1"))
		Expect(reply.Status).To(Equal("failure"))
		Expect(reply.OK()).To(BeFalse())
		Expect(reply.Error).To(Equal("version is required"))

		raw, err := json.Marshal(reply)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(ContainSubstring(`"status":"failure"`))
	})
})
