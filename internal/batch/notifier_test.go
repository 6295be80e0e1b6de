package batch

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Notifier", func() {
	var (
		recorder *hookRecorder
		notifier *Notifier
	)

	BeforeEach(func() {
		recorder = newHookRecorder()
		notifier = NewNotifier(recorder.hooks())
	})

	state := func(index int, status Status) ItemState {
		return ItemState{ID: imageID(index), Index: index, Status: status}
	}

	When("observing a pending snapshot", func() {
		It("announces nothing", func() {
			notifier.Observe([]ItemState{state(0, StatusPending), state(1, StatusPending)})
			Expect(recorder.startCount(0)).To(BeZero())
			Expect(recorder.startCount(1)).To(BeZero())
		})
	})

	When("an item enters processing", func() {
		It("announces the start once", func() {
			notifier.Observe([]ItemState{state(0, StatusProcessing)})
			Expect(recorder.startCount(0)).To(Equal(1))
		})

		It("does not re-announce on duplicate snapshots", func() {
			snapshot := []ItemState{state(0, StatusProcessing), state(1, StatusPending)}
			notifier.Observe(snapshot)
			notifier.Observe(snapshot)
			notifier.Observe(snapshot)
			Expect(recorder.startCount(0)).To(Equal(1))
		})
	})

	When("an item reaches ready", func() {
		It("announces the success once across overlapping snapshots", func() {
			notifier.Observe([]ItemState{state(0, StatusProcessing)})
			notifier.Observe([]ItemState{state(0, StatusReady)})
			notifier.Observe([]ItemState{state(0, StatusReady)})
			Expect(recorder.successCount(0)).To(Equal(1))
			Expect(recorder.errorCount(0)).To(BeZero())
		})
	})

	When("an item reaches error", func() {
		It("announces the error once", func() {
			notifier.Observe([]ItemState{state(0, StatusError)})
			notifier.Observe([]ItemState{state(0, StatusError)})
			Expect(recorder.errorCount(0)).To(Equal(1))
		})
	})

	When("a failed item is retried to success", func() {
		It("never fires both terminal hooks for one item", func() {
			notifier.Observe([]ItemState{state(0, StatusProcessing)})
			notifier.Observe([]ItemState{state(0, StatusError)})
			notifier.Observe([]ItemState{state(0, StatusProcessing)})
			notifier.Observe([]ItemState{state(0, StatusReady)})

			Expect(recorder.errorCount(0)).To(Equal(1))
			Expect(recorder.successCount(0)).To(BeZero())
			Expect(recorder.startCount(0)).To(Equal(1))
		})
	})

	When("snapshots coalesce a start and a terminal transition", func() {
		It("still announces the terminal state", func() {
			// A cancelled item goes terminal without ever processing
			notifier.Observe([]ItemState{state(0, StatusError)})
			Expect(recorder.errorCount(0)).To(Equal(1))
			Expect(recorder.startCount(0)).To(BeZero())
		})
	})

	When("items progress independently", func() {
		It("tracks announcements per item", func() {
			notifier.Observe([]ItemState{state(0, StatusProcessing), state(1, StatusPending)})
			notifier.Observe([]ItemState{state(0, StatusReady), state(1, StatusProcessing)})
			notifier.Observe([]ItemState{state(0, StatusReady), state(1, StatusError)})

			Expect(recorder.startCount(0)).To(Equal(1))
			Expect(recorder.successCount(0)).To(Equal(1))
			Expect(recorder.startCount(1)).To(Equal(1))
			Expect(recorder.errorCount(1)).To(Equal(1))
			Expect(recorder.successCount(1)).To(BeZero())
		})
	})

	When("constructed with nil hooks", func() {
		It("tolerates observation without panicking", func() {
			n := NewNotifier(Hooks{})
			Expect(func() {
				n.Observe([]ItemState{state(0, StatusProcessing)})
				n.Observe([]ItemState{state(0, StatusReady)})
			}).NotTo(Panic())
		})
	})
})
