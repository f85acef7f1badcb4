package kernel

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/delayreg/delay"
	"github.com/sarchlab/delayreg/hooking"
)

var _ = Describe("Shard", func() {
	var m *ConnectionManager

	BeforeEach(func() {
		m = MakeBuilder().
			WithModels("static_synapse", "stdp_synapse").
			Build("kernel")
	})

	It("should panic when forking into no shards", func() {
		Expect(func() { m.Fork(0) }).To(Panic())
	})

	It("should merge what parallel workers recorded", func() {
		var events int
		hook := hooking.HookFunc(func(ctx hooking.HookCtx) {
			events++
		})
		m.AcceptHook(&hook)

		Expect(m.Connect("static_synapse", 1.0)).To(Succeed())
		events = 0

		shards := m.Fork(4)

		var wg sync.WaitGroup
		for _, s := range shards {
			wg.Add(1)
			go func(s *Shard) {
				defer GinkgoRecover()
				defer wg.Done()

				for i := 1; i <= 10; i++ {
					ms := float64(s.Index()*10+i) * 0.1
					Expect(s.Connect("static_synapse", ms)).To(Succeed())
				}
				Expect(s.ConnectContinuous("stdp_synapse", 7, 8)).To(Succeed())
				Expect(s.ConnectDefault("stdp_synapse")).To(Succeed())
			}(s)
		}
		wg.Wait()

		Expect(events).To(BeZero())
		Expect(shards[2].NumConnections()).To(Equal(uint64(12)))

		Expect(m.Join(shards...)).To(Succeed())

		Expect(events).To(Equal(48))
		Expect(m.NumConnections()).To(Equal(uint64(49)))

		static, _ := m.Register("static_synapse")
		Expect(static.MinDelay().Steps()).To(Equal(int64(1)))
		Expect(static.MaxDelay().Steps()).To(Equal(int64(40)))
		Expect(static.NumConnections()).To(Equal(uint64(41)))

		stdp, _ := m.Register("stdp_synapse")
		Expect(stdp.MinDelay().Steps()).To(Equal(int64(7)))
		Expect(stdp.MaxDelay().Steps()).To(Equal(int64(8)))
		Expect(stdp.DefaultDelayNeedsCheck()).To(BeTrue())
	})

	It("should apply the user bounds in every shard", func() {
		Expect(m.SetStatus("static_synapse",
			delay.Status{delay.KeyMinDelay: 1.0, delay.KeyMaxDelay: 2.0})).
			To(Succeed())

		shards := m.Fork(2)

		Expect(shards[0].Connect("static_synapse", 3.0)).
			To(MatchError(delay.ErrDelayExtremaConflict))
		Expect(shards[1].Connect("static_synapse", 1.5)).To(Succeed())

		Expect(m.Join(shards...)).To(Succeed())

		static, _ := m.Register("static_synapse")
		Expect(static.MinDelay().Steps()).To(Equal(int64(10)))
		Expect(static.MaxDelay().Steps()).To(Equal(int64(20)))
		Expect(static.UserSetDelayExtrema()).To(BeTrue())
		Expect(static.NumConnections()).To(Equal(uint64(1)))
	})

	It("should apply the frozen bounds in every shard", func() {
		Expect(m.Connect("static_synapse", 1.0)).To(Succeed())
		Expect(m.Connect("static_synapse", 2.0)).To(Succeed())
		Expect(m.Simulate()).To(Succeed())

		shards := m.Fork(1)

		Expect(shards[0].Connect("stdp_synapse", 0.5)).
			To(MatchError(delay.ErrDelayExtremaConflict))
		Expect(shards[0].ConnectDefault("stdp_synapse")).To(Succeed())

		Expect(m.Join(shards...)).To(Succeed())

		stdp, _ := m.Register("stdp_synapse")
		Expect(stdp.DefaultDelayNeedsCheck()).To(BeFalse())
		Expect(stdp.MinDelay().Steps()).To(Equal(int64(10)))
	})

	It("should refuse to join a shard twice", func() {
		shards := m.Fork(1)
		Expect(m.Join(shards...)).To(Succeed())

		Expect(m.Join(shards...)).To(MatchError(ErrShardJoined))
		Expect(shards[0].Connect("static_synapse", 1.0)).To(MatchError(ErrShardJoined))
	})

	It("should refuse the same shard passed twice", func() {
		shards := m.Fork(1)
		Expect(shards[0].Connect("static_synapse", 1.0)).To(Succeed())

		Expect(m.Join(shards[0], shards[0])).To(MatchError(ErrShardJoined))
		Expect(m.NumConnections()).To(BeZero())

		Expect(m.Join(shards[0])).To(Succeed())
		Expect(m.NumConnections()).To(Equal(uint64(1)))
	})

	It("should not widen user bounds set while shards were out", func() {
		shards := m.Fork(2)
		Expect(shards[0].Connect("static_synapse", 5.0)).To(Succeed())

		Expect(m.SetStatus("static_synapse",
			delay.Status{delay.KeyMinDelay: 1.0, delay.KeyMaxDelay: 2.0})).
			To(Succeed())

		Expect(m.Join(shards...)).To(MatchError(delay.ErrDelayExtremaConflict))

		static, _ := m.Register("static_synapse")
		Expect(static.UserSetDelayExtrema()).To(BeTrue())
		Expect(static.MinDelay().Steps()).To(Equal(int64(10)))
		Expect(static.MaxDelay().Steps()).To(Equal(int64(20)))
		Expect(static.NumConnections()).To(BeZero())
	})

	It("should refuse shards forked at another resolution", func() {
		shards := m.Fork(2)
		Expect(shards[1].Connect("static_synapse", 1.0)).To(Succeed())
		Expect(m.SetResolution(0.05)).To(Succeed())

		Expect(m.Join(shards...)).To(MatchError(delay.ErrIncompatibleResolution))
		Expect(m.NumConnections()).To(BeZero())
		Expect(shards[0].Connect("static_synapse", 1.0)).To(Succeed())
	})
})
