package delay

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/delayreg/timing"
)

var _ = Describe("Status", func() {
	var r *Register

	BeforeEach(func() {
		r = NewRegister("static_synapse", timing.MustNewResolution(0.1))
	})

	It("should report infinite bounds on a fresh register", func() {
		s := r.GetStatus()

		Expect(math.IsInf(s[KeyMinDelay].(float64), 1)).To(BeTrue())
		Expect(math.IsInf(s[KeyMaxDelay].(float64), -1)).To(BeTrue())
		Expect(s[KeyNumConnections]).To(Equal(uint64(0)))
		Expect(s[KeyUserSetDelayExtrema]).To(BeFalse())
		Expect(s[KeyUsedDefaultDelay]).To(BeFalse())
	})

	It("should report recorded bounds in milliseconds", func() {
		Expect(r.AssertValidDelayMS(0.3)).To(Succeed())
		Expect(r.AssertValidDelayMS(1.2)).To(Succeed())
		r.IncrConnections()
		r.UsedDefaultDelay()

		s := r.GetStatus()

		Expect(s[KeyMinDelay]).To(BeNumerically("~", 0.3, 1e-12))
		Expect(s[KeyMaxDelay]).To(BeNumerically("~", 1.2, 1e-12))
		Expect(s[KeyNumConnections]).To(Equal(uint64(1)))
		Expect(s[KeyUsedDefaultDelay]).To(BeTrue())
	})

	Context("round trip", func() {
		It("should be a no-op on a fresh register", func() {
			Expect(r.SetStatus(r.GetStatus())).To(Succeed())

			Expect(r.UserSetDelayExtrema()).To(BeFalse())
			Expect(r.MinDelay().IsPosInf()).To(BeTrue())
		})

		It("should be a no-op after connections were made", func() {
			Expect(r.AssertValidDelayMS(0.3)).To(Succeed())
			Expect(r.AssertValidDelayMS(1.2)).To(Succeed())
			r.IncrConnections()
			before := r.Clone()

			Expect(r.SetStatus(r.GetStatus())).To(Succeed())

			Expect(r).To(Equal(before))
		})

		It("should be a no-op on user-set extrema", func() {
			Expect(r.SetStatus(Status{KeyMinDelay: 1.0, KeyMaxDelay: 2.0})).
				To(Succeed())
			before := r.Clone()

			Expect(r.SetStatus(r.GetStatus())).To(Succeed())

			Expect(r).To(Equal(before))
		})
	})

	Context("with bounds equal to the observed extrema", func() {
		BeforeEach(func() {
			Expect(r.AssertValidDelayMS(1.0)).To(Succeed())
			Expect(r.AssertValidDelayMS(2.0)).To(Succeed())
		})

		It("should fix them", func() {
			Expect(r.SetStatus(Status{KeyMinDelay: 1.0, KeyMaxDelay: 2.0})).
				To(Succeed())

			Expect(r.UserSetDelayExtrema()).To(BeTrue())
			Expect(r.AssertValidDelayMS(5.0)).
				To(MatchError(ErrDelayExtremaConflict))
			Expect(r.MaxDelay().Steps()).To(Equal(int64(20)))
		})

		It("should fix them after connections were made", func() {
			r.IncrConnections()

			Expect(r.SetStatus(Status{KeyMinDelay: 1.0, KeyMaxDelay: 2.0})).
				To(Succeed())

			Expect(r.UserSetDelayExtrema()).To(BeTrue())
			Expect(r.AssertValidDelayMS(0.5)).
				To(MatchError(ErrDelayExtremaConflict))
		})

		It("should leave them open when the status says they are not user set",
			func() {
				Expect(r.SetStatus(Status{
					KeyMinDelay:            1.0,
					KeyMaxDelay:            2.0,
					KeyUserSetDelayExtrema: false,
				})).To(Succeed())

				Expect(r.UserSetDelayExtrema()).To(BeFalse())
				Expect(r.AssertValidDelayMS(5.0)).To(Succeed())
			})

		It("should reject a malformed user set flag", func() {
			err := r.SetStatus(Status{
				KeyMinDelay:            1.0,
				KeyMaxDelay:            2.0,
				KeyUserSetDelayExtrema: "maybe",
			})

			Expect(err).To(MatchError(ErrBadStatus))
			Expect(r.UserSetDelayExtrema()).To(BeFalse())
		})
	})

	It("should accept any numeric type", func() {
		Expect(r.SetStatus(Status{KeyMinDelay: 1, KeyMaxDelay: float32(2.5)})).
			To(Succeed())

		Expect(r.MinDelay().Steps()).To(Equal(int64(10)))
		Expect(r.MaxDelay().Steps()).To(Equal(int64(25)))
	})

	It("should ignore read-only keys", func() {
		Expect(r.SetStatus(Status{
			KeyNumConnections:      uint64(42),
			KeyUserSetDelayExtrema: true,
		})).To(Succeed())

		Expect(r.NumConnections()).To(BeZero())
		Expect(r.UserSetDelayExtrema()).To(BeFalse())
	})

	It("should allow moving a single bound once both are known", func() {
		Expect(r.SetStatus(Status{KeyMinDelay: 1.0, KeyMaxDelay: 2.0})).
			To(Succeed())

		Expect(r.SetStatus(Status{KeyMaxDelay: 4.0})).To(Succeed())

		Expect(r.MinDelay().Steps()).To(Equal(int64(10)))
		Expect(r.MaxDelay().Steps()).To(Equal(int64(40)))
	})

	DescribeTable("should reject invalid bounds and keep the state",
		func(s Status, expected error) {
			before := r.Clone()

			Expect(r.SetStatus(s)).To(MatchError(expected))
			Expect(r).To(Equal(before))
		},
		Entry("min above max",
			Status{KeyMinDelay: 3.0, KeyMaxDelay: 2.0}, ErrInvalidDelay),
		Entry("below one step",
			Status{KeyMinDelay: 0.05, KeyMaxDelay: 2.0}, ErrInvalidDelay),
		Entry("non-positive",
			Status{KeyMinDelay: 0.0, KeyMaxDelay: 2.0}, ErrInvalidDelay),
		Entry("not a whole number of steps",
			Status{KeyMinDelay: 1.0, KeyMaxDelay: 2.05}, ErrInvalidDelay),
		Entry("only one bound without a recorded other bound",
			Status{KeyMinDelay: 1.0}, ErrInvalidDelay),
		Entry("wrong type",
			Status{KeyMinDelay: "soon", KeyMaxDelay: 2.0}, ErrBadStatus),
	)

	It("should refuse moving bounds once connections exist", func() {
		Expect(r.AssertValidDelayMS(1.0)).To(Succeed())
		r.IncrConnections()

		err := r.SetStatus(Status{KeyMinDelay: 0.5, KeyMaxDelay: 2.0})

		Expect(err).To(MatchError(ErrDelayExtremaConflict))
		Expect(r.UserSetDelayExtrema()).To(BeFalse())
	})

	Context("checkpoint state", func() {
		It("should restore a serialized register", func() {
			Expect(r.AssertValidDelayMS(0.3)).To(Succeed())
			Expect(r.AssertValidDelayMS(1.2)).To(Succeed())
			r.IncrConnections()
			r.UsedDefaultDelay()

			data, err := r.Serialize()
			Expect(err).ToNot(HaveOccurred())

			restored := NewRegister("", timing.MustNewResolution(1))
			Expect(restored.Deserialize(data)).To(Succeed())

			Expect(restored).To(Equal(r))
		})

		It("should restore from decoded JSON numbers", func() {
			data := map[string]any{
				"name":                      "static_synapse",
				"resolution":                0.1,
				"min_delay_steps":           3.0,
				"max_delay_steps":           12.0,
				"num_connections":           4.0,
				"default_delay_needs_check": false,
				"user_set_delay_extrema":    true,
				"used_default_delay":        false,
			}

			Expect(r.Deserialize(data)).To(Succeed())

			Expect(r.MinDelay().Steps()).To(Equal(int64(3)))
			Expect(r.MaxDelay().Steps()).To(Equal(int64(12)))
			Expect(r.NumConnections()).To(Equal(uint64(4)))
			Expect(r.UserSetDelayExtrema()).To(BeTrue())
		})

		It("should keep unset bounds unset", func() {
			data, err := r.Serialize()
			Expect(err).ToNot(HaveOccurred())
			Expect(data).ToNot(HaveKey("min_delay_steps"))

			Expect(r.Deserialize(data)).To(Succeed())
			Expect(r.MinDelay().IsPosInf()).To(BeTrue())
		})

		It("should refuse a state without resolution", func() {
			before := r.Clone()

			err := r.Deserialize(map[string]any{"num_connections": 1})

			Expect(err).To(MatchError(ErrBadStatus))
			Expect(r).To(Equal(before))
		})
	})
})
