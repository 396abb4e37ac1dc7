package conversation_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"vozlab.mx/conversa/internal/conversation"
)

var _ = Describe("Locks", func() {
	var locks *conversation.Locks

	BeforeEach(func() {
		locks = conversation.NewLocks()
	})

	It("grants a free key immediately", func() {
		err := locks.Acquire(context.Background(), "acme:+5215500000001")
		Expect(err).NotTo(HaveOccurred())
		locks.Release("acme:+5215500000001")
	})

	It("does not block distinct keys", func() {
		Expect(locks.Acquire(context.Background(), "acme:alice")).To(Succeed())

		done := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			Expect(locks.Acquire(context.Background(), "acme:bob")).To(Succeed())
			close(done)
		}()

		Eventually(done).Should(BeClosed())
		locks.Release("acme:alice")
		locks.Release("acme:bob")
	})

	It("serializes holders of the same key", func() {
		const key = "acme:alice"
		var (
			mu      sync.Mutex
			running int
			maxSeen int
			wg      sync.WaitGroup
		)

		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				Expect(locks.Acquire(context.Background(), key)).To(Succeed())
				mu.Lock()
				running++
				if running > maxSeen {
					maxSeen = running
				}
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				running--
				mu.Unlock()
				locks.Release(key)
			}()
		}
		wg.Wait()

		Expect(maxSeen).To(Equal(1))
	})

	It("grants waiters in arrival order", func() {
		const key = "acme:alice"
		Expect(locks.Acquire(context.Background(), key)).To(Succeed())

		var (
			mu    sync.Mutex
			order []int
			wg    sync.WaitGroup
		)
		for i := 1; i <= 3; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				defer GinkgoRecover()
				Expect(locks.Acquire(context.Background(), key)).To(Succeed())
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				locks.Release(key)
			}(i)
			// Stagger arrivals so the queue order is deterministic
			time.Sleep(10 * time.Millisecond)
		}

		locks.Release(key)
		wg.Wait()

		Expect(order).To(Equal([]int{1, 2, 3}))
	})

	It("withdraws a canceled waiter without breaking the chain", func() {
		const key = "acme:alice"
		Expect(locks.Acquire(context.Background(), key)).To(Succeed())

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			errCh <- locks.Acquire(ctx, key)
		}()

		time.Sleep(10 * time.Millisecond)
		cancel()
		Eventually(errCh).Should(Receive(MatchError(context.Canceled)))

		// The canceled waiter must not have consumed the next grant
		granted := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			Expect(locks.Acquire(context.Background(), key)).To(Succeed())
			close(granted)
		}()

		locks.Release(key)
		Eventually(granted).Should(BeClosed())
		locks.Release(key)
	})

	It("treats release of an unheld key as a no-op", func() {
		locks.Release("never:acquired")
		Expect(locks.Acquire(context.Background(), "never:acquired")).To(Succeed())
		locks.Release("never:acquired")
	})
})
