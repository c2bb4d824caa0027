package manager_test

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/san-kum/batchsim/internal/assets"
	"github.com/san-kum/batchsim/internal/backend"
	"github.com/san-kum/batchsim/internal/config"
	"github.com/san-kum/batchsim/internal/device"
	"github.com/san-kum/batchsim/internal/manager"
	"github.com/san-kum/batchsim/internal/tensor"
)

const dataDir = "../../data"

func testConfig(mode config.ExecMode, worlds int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.NumWorlds = worlds
	cfg.ExecMode = mode
	cfg.Emulate = mode == config.ExecModeDevice
	cfg.Workers = 2
	cfg.DataDir = dataDir
	return cfg
}

func views(m *manager.Manager) []tensor.Tensor {
	reset, err := m.ResetTensor()
	Expect(err).NotTo(HaveOccurred())
	action, err := m.ActionTensor()
	Expect(err).NotTo(HaveOccurred())
	depth, err := m.DepthTensor()
	Expect(err).NotTo(HaveOccurred())
	rgb, err := m.RGBTensor()
	Expect(err).NotTo(HaveOccurred())
	return []tensor.Tensor{reset, action, depth, rgb}
}

func metricValue(name, label, value string) float64 {
	families, err := prometheus.DefaultGatherer.Gather()
	Expect(err).NotTo(HaveOccurred())
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

type brokenImporter struct{}

func (brokenImporter) Import(path string) (*assets.ImportedObject, error) {
	return &assets.ImportedObject{
		Path:   path,
		Meshes: []assets.Mesh{{Positions: []assets.Vec3{{}}, Indices: []uint32{0, 0}}},
	}, nil
}

var _ = Describe("Manager", func() {
	ctx := context.Background()

	Describe("tensor views", func() {
		DescribeTable("have mode independent shapes",
			func(mode config.ExecMode) {
				cfg := testConfig(mode, 3)
				cfg.RenderWidth, cfg.RenderHeight = 16, 8

				m, err := manager.New(ctx, cfg)
				Expect(err).NotTo(HaveOccurred())
				DeferCleanup(m.Close)

				v := views(m)
				Expect(v[0].Shape).To(Equal([]int64{3, 1}))
				Expect(v[0].Type).To(Equal(tensor.Int32))
				Expect(v[1].Shape).To(Equal([]int64{3, 1}))
				Expect(v[1].Type).To(Equal(tensor.Int32))
				Expect(v[2].Shape).To(Equal([]int64{3, 8, 16, 1}))
				Expect(v[2].Type).To(Equal(tensor.Float32))
				Expect(v[3].Shape).To(Equal([]int64{3, 8, 16, 4}))
				Expect(v[3].Type).To(Equal(tensor.UInt8))
			},
			Entry("host", config.ExecModeHost),
			Entry("device", config.ExecModeDevice),
		)

		It("reports the documented depth view for four emulated worlds", func() {
			cfg := testConfig(config.ExecModeDevice, 4)
			cfg.DeviceID = 0
			cfg.RenderWidth, cfg.RenderHeight = 64, 64

			m, err := manager.New(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(m.Close)

			depth, err := m.DepthTensor()
			Expect(err).NotTo(HaveOccurred())
			Expect(depth.Shape).To(Equal([]int64{4, 64, 64, 1}))
			Expect(depth.Type).To(Equal(tensor.Float32))
			Expect(depth.Location).To(Equal(tensor.Device(0)))
			Expect(depth.IsNull()).To(BeFalse())
		})

		It("tags every device view with the configured device", func() {
			cfg := testConfig(config.ExecModeDevice, 2)
			cfg.DeviceID = 3

			m, err := manager.New(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(m.Close)

			for _, v := range views(m) {
				Expect(v.Location).To(Equal(tensor.Device(3)), v.String())
				Expect(v.IsNull()).To(BeFalse())
			}
		})

		It("gives host views no device tag and no memory", func() {
			m, err := manager.New(ctx, testConfig(config.ExecModeHost, 2))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(m.Close)

			for _, v := range views(m) {
				Expect(v.Location.IsDevice()).To(BeFalse())
				Expect(v.IsNull()).To(BeTrue())
			}
			Expect(m.Runtime()).To(BeNil())
		})
	})

	Describe("stepping", func() {
		It("advances exactly one tick per step", func() {
			var seen []uint64
			obs := manager.ObserverFunc(func(tick uint64, _ time.Duration) { seen = append(seen, tick) })

			m, err := manager.New(ctx, testConfig(config.ExecModeDevice, 4), manager.WithObserver(obs))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(m.Close)
			Expect(m.State()).To(Equal(manager.StateInitialized))

			before := m.Ticks()
			Expect(m.Step()).To(Succeed())
			Expect(m.Step()).To(Succeed())
			Expect(m.Ticks() - before).To(Equal(uint64(2)))
			Expect(m.State()).To(Equal(manager.StateStepping))
			Expect(seen).To(Equal([]uint64{1, 2}))
		})

		It("counts ticks in host mode too", func() {
			m, err := manager.New(ctx, testConfig(config.ExecModeHost, 1))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(m.Close)

			Expect(m.Step()).To(Succeed())
			Expect(m.Step()).To(Succeed())
			Expect(m.Ticks()).To(Equal(uint64(2)))
		})

		It("shares one episode counter across worlds", func() {
			em := device.NewEmulator(2)
			cfg := testConfig(config.ExecModeDevice, 2)
			cfg.RenderWidth, cfg.RenderHeight = 2, 2

			m, err := manager.New(ctx, cfg, manager.WithRuntime(em))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(m.Close)
			Expect(m.Runtime()).To(BeIdenticalTo(em))

			reset, err := m.ResetTensor()
			Expect(err).NotTo(HaveOccurred())
			rgb, err := m.RGBTensor()
			Expect(err).NotTo(HaveOccurred())

			one := make([]byte, 4)
			binary.LittleEndian.PutUint32(one, 1)
			pixels := cfg.RenderWidth * cfg.RenderHeight
			episodeOf := func(world int) byte {
				raw, err := em.Read(rgb.Addr, int(rgb.SizeBytes()))
				Expect(err).NotTo(HaveOccurred())
				return raw[4*world*pixels+1]
			}

			Expect(em.Write(reset.Addr, one)).To(Succeed())
			Expect(m.Step()).To(Succeed())
			Expect(episodeOf(0)).To(Equal(byte(1)))
			Expect(episodeOf(1)).To(Equal(byte(0)))

			Expect(em.Write(reset.Addr+4, one)).To(Succeed())
			Expect(m.Step()).To(Succeed())
			Expect(episodeOf(0)).To(Equal(byte(1)))
			Expect(episodeOf(1)).To(Equal(byte(2)))
		})
	})

	Describe("lifecycle", func() {
		It("rejects use after close", func() {
			m, err := manager.New(ctx, testConfig(config.ExecModeDevice, 1))
			Expect(err).NotTo(HaveOccurred())

			Expect(m.Close()).To(Succeed())
			Expect(m.State()).To(Equal(manager.StateDestroyed))
			Expect(m.Close()).To(Succeed())

			Expect(m.Step()).To(MatchError(manager.ErrClosed))
			_, err = m.ResetTensor()
			Expect(err).To(MatchError(manager.ErrClosed))
			_, err = m.ActionTensor()
			Expect(err).To(MatchError(manager.ErrClosed))
			_, err = m.DepthTensor()
			Expect(err).To(MatchError(manager.ErrClosed))
			_, err = m.RGBTensor()
			Expect(err).To(MatchError(manager.ErrClosed))
		})

		It("releases device memory on close", func() {
			em := device.NewEmulator(1)
			m, err := manager.New(ctx, testConfig(config.ExecModeDevice, 2), manager.WithRuntime(em))
			Expect(err).NotTo(HaveOccurred())
			Expect(em.InUse()).To(BeNumerically(">", 0))

			Expect(m.Close()).To(Succeed())
			Expect(em.InUse()).To(BeZero())
		})

		It("keeps its own copy of the config", func() {
			cfg := testConfig(config.ExecModeHost, 2)
			m, err := manager.New(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(m.Close)

			cfg.NumWorlds = 100
			Expect(m.Config().NumWorlds).To(Equal(2))

			got := m.Config()
			got.NumWorlds = 50
			Expect(m.Config().NumWorlds).To(Equal(2))
		})

		It("gives every manager a distinct id", func() {
			a, err := manager.New(ctx, testConfig(config.ExecModeHost, 1))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(a.Close)
			b, err := manager.New(ctx, testConfig(config.ExecModeHost, 1))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(b.Close)

			Expect(a.ID()).To(HaveLen(26))
			Expect(a.ID()).NotTo(Equal(b.ID()))
		})

		It("exposes the loaded catalog in canonical order", func() {
			m, err := manager.New(ctx, testConfig(config.ExecModeHost, 1))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(m.Close)

			objs := m.Catalog().Objects()
			Expect(objs).To(HaveLen(3))
			Expect([]assets.ObjectKind{objs[0].Kind, objs[1].Kind, objs[2].Kind}).
				To(Equal([]assets.ObjectKind{assets.Sphere, assets.Plane, assets.Cube}))
		})
	})

	Describe("initialization failures", func() {
		expectKind := func(err error, kind manager.Kind, sentinel error) {
			Expect(err).To(HaveOccurred())
			var ie *manager.InitError
			Expect(errors.As(err, &ie)).To(BeTrue())
			Expect(ie.Kind).To(Equal(kind))
			got, ok := manager.KindOf(err)
			Expect(ok).To(BeTrue())
			Expect(got).To(Equal(kind))
			if sentinel != nil {
				Expect(err).To(MatchError(sentinel))
			}
		}

		It("fails device mode without device support before a manager exists", func() {
			if _, err := device.NewCUDARuntime(); err == nil {
				Skip("cuda runtime present")
			}
			cfg := testConfig(config.ExecModeDevice, 4)
			cfg.Emulate = false

			m, err := manager.New(ctx, cfg)
			Expect(m).To(BeNil())
			expectKind(err, manager.KindUnsupportedBackend, backend.ErrUnsupportedBackend)
			Expect(err).To(MatchError(device.ErrNotAvailable))
		})

		It("reports missing assets", func() {
			cfg := testConfig(config.ExecModeHost, 1)
			cfg.DataDir = GinkgoT().TempDir()

			m, err := manager.New(ctx, cfg)
			Expect(m).To(BeNil())
			expectKind(err, manager.KindAssetMissing, assets.ErrAssetMissing)
		})

		It("reports invalid configuration", func() {
			cfg := testConfig(config.ExecModeHost, 0)
			m, err := manager.New(ctx, cfg)
			Expect(m).To(BeNil())
			expectKind(err, manager.KindInvalidConfig, config.ErrInvalidConfig)

			m, err = manager.New(ctx, nil)
			Expect(m).To(BeNil())
			expectKind(err, manager.KindInvalidConfig, config.ErrInvalidConfig)
		})

		It("reports device allocation failures and frees what it took", func() {
			em := device.NewEmulator(1, device.WithMemoryLimit(64))
			m, err := manager.New(ctx, testConfig(config.ExecModeDevice, 4), manager.WithRuntime(em))
			Expect(m).To(BeNil())
			expectKind(err, manager.KindDeviceAllocationFailure, backend.ErrDeviceAllocation)
			Expect(em.InUse()).To(BeZero())
		})

		It("reports compilation failures", func() {
			em := device.NewEmulator(1)
			m, err := manager.New(ctx, testConfig(config.ExecModeDevice, 2),
				manager.WithRuntime(em), manager.WithImporter(brokenImporter{}))
			Expect(m).To(BeNil())
			expectKind(err, manager.KindCompilationFailure, backend.ErrCompilation)
			Expect(em.InUse()).To(BeZero())
		})

		It("reports cancellation", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			m, err := manager.New(cctx, testConfig(config.ExecModeHost, 1))
			Expect(m).To(BeNil())
			expectKind(err, manager.KindCanceled, context.Canceled)
		})

		It("counts failures by kind", func() {
			before := metricValue("batchsim_init_failures_total", "kind", "asset_missing")

			cfg := testConfig(config.ExecModeHost, 1)
			cfg.DataDir = GinkgoT().TempDir()
			_, err := manager.New(ctx, cfg)
			Expect(err).To(HaveOccurred())

			Expect(metricValue("batchsim_init_failures_total", "kind", "asset_missing") - before).To(Equal(1.0))
		})
	})

	Describe("metrics", func() {
		It("registers every collector", func() {
			families, err := prometheus.DefaultGatherer.Gather()
			Expect(err).NotTo(HaveOccurred())

			names := map[string]bool{}
			for _, fam := range families {
				names[fam.GetName()] = true
			}
			Expect(names).To(HaveKey("batchsim_step_seconds"))
			Expect(names).To(HaveKey("batchsim_init_failures_total"))
			Expect(names).To(HaveKey("batchsim_active_worlds"))
		})

		It("counts steps by mode", func() {
			before := metricValue("batchsim_steps_total", "mode", "host")
			m, err := manager.New(ctx, testConfig(config.ExecModeHost, 1))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(m.Close)

			for i := 0; i < 3; i++ {
				Expect(m.Step()).To(Succeed())
			}
			Expect(metricValue("batchsim_steps_total", "mode", "host") - before).To(Equal(3.0))
		})
	})
})
