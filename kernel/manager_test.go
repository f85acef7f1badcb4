package kernel

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/delayreg/delay"
	"github.com/sarchlab/delayreg/hooking"
	"github.com/sarchlab/delayreg/logging"
)

var _ = Describe("Builder", func() {
	It("should build with defaults", func() {
		m := MakeBuilder().Build("kernel")

		Expect(m.Name()).To(Equal("kernel"))
		Expect(m.Resolution().MS()).To(Equal(0.1))
		Expect(m.DefaultDelay()).To(Equal(1.0))
		Expect(m.Models()).To(BeEmpty())
	})

	It("should register models up front", func() {
		m := MakeBuilder().
			WithModels("static_synapse", "stdp_synapse").
			Build("kernel")

		Expect(m.Models()).To(Equal([]string{"static_synapse", "stdp_synapse"}))
	})

	It("should panic on an invalid resolution", func() {
		Expect(func() { MakeBuilder().WithResolution(0).Build("kernel") }).
			To(Panic())
	})

	It("should panic on a default delay off the grid", func() {
		Expect(func() {
			MakeBuilder().WithResolution(0.1).WithDefaultDelay(0.25).Build("kernel")
		}).To(Panic())
	})

	It("should panic on duplicated models", func() {
		Expect(func() {
			MakeBuilder().WithModels("static_synapse", "static_synapse").Build("kernel")
		}).To(Panic())
	})

	It("should validate settings without building", func() {
		Expect(ValidateSettings(0.1, 1.5)).To(Succeed())
		Expect(ValidateSettings(0.1, 0.25)).To(MatchError(delay.ErrInvalidDelay))
		Expect(ValidateSettings(-1, 1.0)).ToNot(Succeed())
	})
})

var _ = Describe("ConnectionManager", func() {
	var (
		m *ConnectionManager
	)

	BeforeEach(func() {
		m = MakeBuilder().
			WithResolution(0.1).
			WithDefaultDelay(1.0).
			WithModels("static_synapse", "stdp_synapse").
			Build("kernel")
	})

	It("should refuse a model registered twice", func() {
		Expect(m.RegisterModel("static_synapse")).To(MatchError(ErrModelExists))
		Expect(m.RegisterModel("bernoulli_synapse")).To(Succeed())
		Expect(m.Models()).To(HaveLen(3))
	})

	It("should refuse unknown models", func() {
		Expect(m.Connect("nope", 1.0)).To(MatchError(ErrUnknownModel))
		Expect(m.ConnectDefault("nope")).To(MatchError(ErrUnknownModel))
		Expect(m.ConnectContinuous("nope", 1, 2)).To(MatchError(ErrUnknownModel))

		_, err := m.Register("nope")
		Expect(err).To(MatchError(ErrUnknownModel))
		_, err = m.GetStatus("nope")
		Expect(err).To(MatchError(ErrUnknownModel))
	})

	It("should track extrema per model", func() {
		Expect(m.Connect("static_synapse", 0.5)).To(Succeed())
		Expect(m.Connect("static_synapse", 0.3)).To(Succeed())
		Expect(m.Connect("stdp_synapse", 2.0)).To(Succeed())

		static, err := m.Register("static_synapse")
		Expect(err).ToNot(HaveOccurred())
		Expect(static.MinDelay().Steps()).To(Equal(int64(3)))
		Expect(static.MaxDelay().Steps()).To(Equal(int64(5)))
		Expect(static.NumConnections()).To(Equal(uint64(2)))

		Expect(m.MinDelay().Steps()).To(Equal(int64(3)))
		Expect(m.MaxDelay().Steps()).To(Equal(int64(20)))
		Expect(m.Lookahead()).To(Equal(m.MinDelay()))
		Expect(m.NumConnections()).To(Equal(uint64(3)))
	})

	It("should not count refused connections", func() {
		Expect(m.Connect("static_synapse", 0.05)).To(MatchError(delay.ErrInvalidDelay))
		Expect(m.ConnectContinuous("static_synapse", 0, 1)).
			To(MatchError(delay.ErrInvalidDelay))

		Expect(m.NumConnections()).To(BeZero())
	})

	It("should hand out copies of the registers", func() {
		reg, err := m.Register("static_synapse")
		Expect(err).ToNot(HaveOccurred())

		Expect(reg.AssertValidDelayMS(0.5)).To(Succeed())

		Expect(m.MinDelay()).To(Equal(m.Resolution().OneStep()))
	})

	It("should accept pairs of consecutive steps", func() {
		Expect(m.ConnectContinuous("static_synapse", 4, 5)).To(Succeed())

		status, err := m.GetStatus("static_synapse")
		Expect(err).ToNot(HaveOccurred())
		Expect(status[delay.KeyMinDelay]).To(BeNumerically("~", 0.4, 1e-12))
		Expect(status[delay.KeyMaxDelay]).To(BeNumerically("~", 0.5, 1e-12))
		Expect(status[delay.KeyNumConnections]).To(Equal(uint64(1)))
	})

	It("should report one step when no delay is known", func() {
		status := m.KernelStatus()

		Expect(status[KeyMinDelay]).To(BeNumerically("~", 0.1, 1e-12))
		Expect(status[KeyMaxDelay]).To(BeNumerically("~", 0.1, 1e-12))
		Expect(status[KeyResolution]).To(Equal(0.1))
		Expect(status[KeyDefaultDelay]).To(Equal(1.0))
		Expect(status[KeyNumConnections]).To(Equal(uint64(0)))
		Expect(status[KeySimulated]).To(BeFalse())
	})

	Context("with the default delay", func() {
		It("should defer validation to the check", func() {
			Expect(m.ConnectDefault("static_synapse")).To(Succeed())

			reg, _ := m.Register("static_synapse")
			Expect(reg.DefaultDelayNeedsCheck()).To(BeTrue())
			Expect(reg.MinDelay().IsPosInf()).To(BeTrue())
			Expect(m.MinDelay().Steps()).To(Equal(int64(10)))

			Expect(m.CheckDefaultDelays()).To(Succeed())

			reg, _ = m.Register("static_synapse")
			Expect(reg.DefaultDelayNeedsCheck()).To(BeFalse())
			Expect(reg.MinDelay().Steps()).To(Equal(int64(10)))
			Expect(reg.NumConnections()).To(Equal(uint64(1)))
		})

		It("should use the latest default delay", func() {
			Expect(m.ConnectDefault("static_synapse")).To(Succeed())
			Expect(m.SetDefaultDelay(2.0)).To(Succeed())

			Expect(m.CheckDefaultDelays()).To(Succeed())

			reg, _ := m.Register("static_synapse")
			Expect(reg.MinDelay().Steps()).To(Equal(int64(20)))
		})

		It("should refuse a default delay off the grid", func() {
			Expect(m.SetDefaultDelay(0.25)).To(MatchError(delay.ErrInvalidDelay))
			Expect(m.SetDefaultDelay(0)).To(MatchError(delay.ErrInvalidDelay))
			Expect(m.DefaultDelay()).To(Equal(1.0))
		})

		It("should report conflicts with user bounds at the check", func() {
			Expect(m.SetStatus("static_synapse",
				delay.Status{delay.KeyMinDelay: 2.0, delay.KeyMaxDelay: 3.0})).
				To(Succeed())
			Expect(m.SetStatus("stdp_synapse",
				delay.Status{delay.KeyMinDelay: 0.2, delay.KeyMaxDelay: 0.5})).
				To(Succeed())
			Expect(m.ConnectDefault("static_synapse")).To(Succeed())
			Expect(m.ConnectDefault("stdp_synapse")).To(Succeed())

			err := m.CheckDefaultDelays()

			Expect(err).To(MatchError(delay.ErrDelayExtremaConflict))
			Expect(err.Error()).To(ContainSubstring("static_synapse"))
			Expect(err.Error()).To(ContainSubstring("stdp_synapse"))
		})

		It("should validate right away once final", func() {
			Expect(m.CheckDefaultDelays()).To(Succeed())
			Expect(m.SetDefaultDelay(2.0)).To(MatchError(ErrDefaultDelayFinalized))

			Expect(m.ConnectDefault("static_synapse")).To(Succeed())

			reg, _ := m.Register("static_synapse")
			Expect(reg.DefaultDelayNeedsCheck()).To(BeFalse())
			Expect(reg.HasUsedDefaultDelay()).To(BeTrue())
			Expect(reg.MinDelay().Steps()).To(Equal(int64(10)))
		})

		It("should refuse default connections outside user bounds once final", func() {
			Expect(m.SetStatus("static_synapse",
				delay.Status{delay.KeyMinDelay: 2.0, delay.KeyMaxDelay: 3.0})).
				To(Succeed())
			Expect(m.CheckDefaultDelays()).To(Succeed())

			Expect(m.ConnectDefault("static_synapse")).
				To(MatchError(delay.ErrDelayExtremaConflict))
			Expect(m.NumConnections()).To(BeZero())
		})
	})

	Context("when changing the resolution", func() {
		It("should calibrate every register", func() {
			Expect(m.Connect("static_synapse", 1.0)).To(Succeed())
			Expect(m.Connect("stdp_synapse", 0.4)).To(Succeed())

			Expect(m.SetResolution(0.2)).To(Succeed())

			Expect(m.Resolution().MS()).To(Equal(0.2))
			static, _ := m.Register("static_synapse")
			Expect(static.MinDelay().Steps()).To(Equal(int64(5)))
			Expect(static.Resolution().MS()).To(Equal(0.2))
			stdp, _ := m.Register("stdp_synapse")
			Expect(stdp.MinDelay().Steps()).To(Equal(int64(2)))

			Expect(m.Connect("static_synapse", 0.3)).To(MatchError(delay.ErrInvalidDelay))
		})

		It("should change nothing when one register cannot follow", func() {
			Expect(m.Connect("static_synapse", 1.0)).To(Succeed())
			Expect(m.Connect("stdp_synapse", 0.5)).To(Succeed())

			err := m.SetResolution(0.2)

			Expect(err).To(MatchError(delay.ErrIncompatibleResolution))
			Expect(m.Resolution().MS()).To(Equal(0.1))
			static, _ := m.Register("static_synapse")
			Expect(static.MinDelay().Steps()).To(Equal(int64(10)))
			Expect(static.Resolution().MS()).To(Equal(0.1))
		})

		It("should keep the default delay representable", func() {
			Expect(m.SetResolution(0.3)).To(MatchError(delay.ErrIncompatibleResolution))
			Expect(m.Resolution().MS()).To(Equal(0.1))
		})

		It("should be idempotent for the same resolution", func() {
			Expect(m.Connect("static_synapse", 0.7)).To(Succeed())

			Expect(m.SetResolution(0.1)).To(Succeed())
			Expect(m.SetResolution(0.1)).To(Succeed())

			static, _ := m.Register("static_synapse")
			Expect(static.MinDelay().Steps()).To(Equal(int64(7)))
		})
	})

	Context("when simulating", func() {
		BeforeEach(func() {
			Expect(m.Connect("static_synapse", 0.5)).To(Succeed())
			Expect(m.Connect("static_synapse", 2.0)).To(Succeed())
		})

		It("should freeze the global bounds", func() {
			Expect(m.Simulate()).To(Succeed())

			Expect(m.Simulated()).To(BeTrue())
			Expect(m.Connect("static_synapse", 1.0)).To(Succeed())
			Expect(m.Connect("stdp_synapse", 3.0)).
				To(MatchError(delay.ErrDelayExtremaConflict))
			Expect(m.Connect("stdp_synapse", 0.2)).
				To(MatchError(delay.ErrDelayExtremaConflict))
			Expect(m.MinDelay().Steps()).To(Equal(int64(5)))
			Expect(m.MaxDelay().Steps()).To(Equal(int64(20)))
			Expect(m.KernelStatus()[KeySimulated]).To(BeTrue())
		})

		It("should refuse resolution changes", func() {
			Expect(m.Simulate()).To(Succeed())

			Expect(m.SetResolution(0.05)).To(MatchError(ErrAlreadySimulated))
		})

		It("should accept only no-op statuses", func() {
			Expect(m.Simulate()).To(Succeed())

			status, _ := m.GetStatus("stdp_synapse")
			Expect(m.SetStatus("stdp_synapse", status)).To(Succeed())
			Expect(m.SetStatus("stdp_synapse",
				delay.Status{delay.KeyMinDelay: 1.0, delay.KeyMaxDelay: 1.5})).
				To(MatchError(ErrAlreadySimulated))
		})

		It("should not freeze when the default delay check fails", func() {
			Expect(m.SetStatus("stdp_synapse",
				delay.Status{delay.KeyMinDelay: 2.0, delay.KeyMaxDelay: 3.0})).
				To(Succeed())
			Expect(m.ConnectDefault("stdp_synapse")).To(Succeed())

			Expect(m.Simulate()).To(MatchError(delay.ErrDelayExtremaConflict))
			Expect(m.Simulated()).To(BeFalse())
		})

		It("should include the default delay in the frozen bounds", func() {
			Expect(m.ConnectDefault("stdp_synapse")).To(Succeed())
			Expect(m.SetDefaultDelay(4.0)).To(Succeed())

			Expect(m.Simulate()).To(Succeed())
			Expect(m.Simulate()).To(Succeed())

			Expect(m.MaxDelay().Steps()).To(Equal(int64(40)))
		})

		It("should unfreeze on reset", func() {
			Expect(m.Simulate()).To(Succeed())

			m.Reset()

			Expect(m.Simulated()).To(BeFalse())
			Expect(m.NumConnections()).To(BeZero())
			Expect(m.MinDelay()).To(Equal(m.Resolution().OneStep()))
			Expect(m.Connect("stdp_synapse", 3.0)).To(Succeed())
		})
	})

	Context("with status", func() {
		It("should round trip without effect", func() {
			Expect(m.Connect("static_synapse", 0.5)).To(Succeed())

			for _, model := range m.Models() {
				status, err := m.GetStatus(model)
				Expect(err).ToNot(HaveOccurred())
				Expect(m.SetStatus(model, status)).To(Succeed())

				after, _ := m.GetStatus(model)
				Expect(after).To(Equal(status))
			}
		})

		It("should fix the extrema", func() {
			Expect(m.SetStatus("static_synapse",
				delay.Status{delay.KeyMinDelay: 1.0, delay.KeyMaxDelay: 2.0})).
				To(Succeed())

			Expect(m.Connect("static_synapse", 5.0)).
				To(MatchError(delay.ErrDelayExtremaConflict))
			Expect(m.MinDelay().Steps()).To(Equal(int64(10)))
			Expect(m.MaxDelay().Steps()).To(Equal(int64(20)))
		})

		It("should refuse new extrema once connections exist", func() {
			Expect(m.Connect("static_synapse", 1.0)).To(Succeed())

			Expect(m.SetStatus("static_synapse",
				delay.Status{delay.KeyMinDelay: 1.0, delay.KeyMaxDelay: 2.0})).
				To(MatchError(delay.ErrDelayExtremaConflict))
		})
	})

	Context("with hooks", func() {
		var (
			mockCtrl *gomock.Controller
			hook     *MockHook
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			hook = NewMockHook(mockCtrl)
			m.AcceptHook(hook)
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should announce registered delays", func() {
			hook.EXPECT().Func(gomock.Any()).Do(func(ctx hooking.HookCtx) {
				Expect(ctx.Domain).To(BeIdenticalTo(m))
				Expect(ctx.Pos).To(BeIdenticalTo(HookPosDelayRegistered))
				Expect(ctx.Item).To(Equal("static_synapse"))

				ev := ctx.Detail.(DelayEvent)
				Expect(ev.Delay.Steps()).To(Equal(int64(5)))
				Expect(ev.NumConnections).To(Equal(uint64(1)))
				Expect(ev.Widened).To(BeTrue())
				Expect(ev.Default).To(BeFalse())
			})

			Expect(m.Connect("static_synapse", 0.5)).To(Succeed())
		})

		It("should stay silent for refused delays", func() {
			Expect(m.Connect("static_synapse", -1)).To(HaveOccurred())
		})

		It("should announce default delay checks and freezing", func() {
			var positions []*hooking.HookPos
			hook.EXPECT().Func(gomock.Any()).Do(func(ctx hooking.HookCtx) {
				positions = append(positions, ctx.Pos)
			}).Times(3)

			Expect(m.ConnectDefault("static_synapse")).To(Succeed())
			Expect(m.Simulate()).To(Succeed())

			Expect(positions).To(Equal([]*hooking.HookPos{
				HookPosDelayRegistered,
				HookPosDefaultDelayChecked,
				HookPosSimulate,
			}))
		})

		It("should announce calibration of every model", func() {
			hook.EXPECT().Func(gomock.Any()).Do(func(ctx hooking.HookCtx) {
				Expect(ctx.Pos).To(BeIdenticalTo(HookPosCalibrated))
			}).Times(2)

			Expect(m.SetResolution(0.05)).To(Succeed())
		})

		It("should announce status changes", func() {
			hook.EXPECT().Func(gomock.Any()).Do(func(ctx hooking.HookCtx) {
				Expect(ctx.Pos).To(BeIdenticalTo(HookPosStatusSet))
				Expect(ctx.Detail.(DelayEvent).MaxDelay.Steps()).
					To(Equal(int64(20)))
			})

			Expect(m.SetStatus("static_synapse",
				delay.Status{delay.KeyMinDelay: 1.0, delay.KeyMaxDelay: 2.0})).
				To(Succeed())
		})
	})

	It("should log calibrations", func() {
		buf := &bytes.Buffer{}
		m = MakeBuilder().
			WithLogger(logging.NewLogger("info", buf)).
			WithModels("static_synapse").
			Build("kernel")

		Expect(m.SetResolution(0.05)).To(Succeed())

		Expect(buf.String()).To(ContainSubstring("resolution changed"))
		Expect(buf.String()).To(ContainSubstring("manager=kernel"))
	})
})
