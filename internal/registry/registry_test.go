package registry_test

import (
	"errors"
	"net/url"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/randdistri/internal/errs"
	"github.com/angeloszaimis/randdistri/internal/registry"
)

var _ = Describe("Registry", func() {
	var reg *registry.Registry

	BeforeEach(func() {
		reg = registry.New()
		Expect(reg.Add("Server1", mustParseURL("http://127.0.0.1:5001"), 60)).To(Succeed())
		Expect(reg.Add("Server2", mustParseURL("http://127.0.0.1:5002"), 30)).To(Succeed())
		Expect(reg.Add("Server3", mustParseURL("http://127.0.0.1:5003"), 10)).To(Succeed())
	})

	Describe("Add", func() {
		It("should start servers healthy and running", func() {
			s, err := reg.Get("Server1")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Healthy).To(BeTrue())
			Expect(s.Running).To(BeTrue())
			Expect(s.Endpoint.String()).To(Equal("http://127.0.0.1:5001"))
		})

		It("should reject duplicate ids", func() {
			err := reg.Add("Server1", mustParseURL("http://127.0.0.1:6001"), 1)
			Expect(errors.Is(err, errs.ErrInvalidParameter)).To(BeTrue())
			Expect(reg.Len()).To(Equal(3))
		})

		It("should reject negative weights", func() {
			err := reg.Add("Server4", mustParseURL("http://127.0.0.1:5004"), -1)
			Expect(errors.Is(err, errs.ErrInvalidParameter)).To(BeTrue())
		})

		It("should reject weights above the maximum", func() {
			err := reg.Add("Server4", mustParseURL("http://127.0.0.1:5004"), registry.MaxWeight+1)
			Expect(errors.Is(err, errs.ErrInvalidParameter)).To(BeTrue())
			Expect(reg.Add("Server4", mustParseURL("http://127.0.0.1:5004"), registry.MaxWeight)).To(Succeed())
		})

		It("should reject an empty id", func() {
			Expect(reg.Add("", mustParseURL("http://127.0.0.1:5004"), 1)).NotTo(Succeed())
		})
	})

	Describe("List", func() {
		It("should preserve insertion order", func() {
			ids := []string{}
			for _, s := range reg.List() {
				ids = append(ids, s.ID)
			}
			Expect(ids).To(Equal([]string{"Server1", "Server2", "Server3"}))
		})

		It("should return copies that cannot mutate the registry", func() {
			servers := reg.List()
			servers[0].Weight = 999
			servers[0].Endpoint.Host = "evil:1"

			s, _ := reg.Get("Server1")
			Expect(s.Weight).To(Equal(60))
			Expect(s.Endpoint.Host).To(Equal("127.0.0.1:5001"))
		})
	})

	Describe("Get", func() {
		It("should fail for unknown ids", func() {
			_, err := reg.Get("Server9")
			Expect(errors.Is(err, errs.ErrServerNotFound)).To(BeTrue())
		})
	})

	Describe("Remove", func() {
		It("should drop the server and keep the order of the rest", func() {
			Expect(reg.Remove("Server2")).To(Succeed())
			servers := reg.List()
			Expect(servers).To(HaveLen(2))
			Expect(servers[0].ID).To(Equal("Server1"))
			Expect(servers[1].ID).To(Equal("Server3"))
		})

		It("should fail for unknown ids", func() {
			Expect(errors.Is(reg.Remove("Server9"), errs.ErrServerNotFound)).To(BeTrue())
		})
	})

	Describe("SetWeight", func() {
		It("should return the old weight", func() {
			old, err := reg.SetWeight("Server1", 80)
			Expect(err).NotTo(HaveOccurred())
			Expect(old).To(Equal(60))

			s, _ := reg.Get("Server1")
			Expect(s.Weight).To(Equal(80))
		})

		It("should accept zero", func() {
			_, err := reg.SetWeight("Server3", 0)
			Expect(err).NotTo(HaveOccurred())

			s, _ := reg.Get("Server3")
			Expect(s.Weight).To(Equal(0))
			Expect(s.EffectiveWeight()).To(Equal(1))
		})

		It("should reject negative weights and keep the prior value", func() {
			_, err := reg.SetWeight("Server2", -5)
			Expect(errors.Is(err, errs.ErrInvalidParameter)).To(BeTrue())

			s, _ := reg.Get("Server2")
			Expect(s.Weight).To(Equal(30))
		})

		It("should reject weights above the maximum and keep the prior value", func() {
			_, err := reg.SetWeight("Server2", registry.MaxWeight+1)
			Expect(errors.Is(err, errs.ErrInvalidParameter)).To(BeTrue())

			s, _ := reg.Get("Server2")
			Expect(s.Weight).To(Equal(30))
		})

		It("should fail for unknown ids", func() {
			_, err := reg.SetWeight("Server9", 5)
			Expect(errors.Is(err, errs.ErrServerNotFound)).To(BeTrue())
		})
	})

	Describe("Health and running state", func() {
		It("should report whether SetHealthy changed anything", func() {
			changed, err := reg.SetHealthy("Server1", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())

			changed, err = reg.SetHealthy("Server1", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())
		})

		It("should keep running independent from healthy", func() {
			_, err := reg.SetRunning("Server1", true)
			Expect(err).NotTo(HaveOccurred())
			_, err = reg.SetHealthy("Server1", false)
			Expect(err).NotTo(HaveOccurred())

			s, _ := reg.Get("Server1")
			Expect(s.Running).To(BeTrue())
			Expect(s.Healthy).To(BeFalse())
		})

		It("should never let a probe revive a stopped server", func() {
			Expect(reg.SetState("Server1", false, false)).To(Succeed())

			healthy, changed, err := reg.ReportProbe("Server1", true)
			Expect(err).NotTo(HaveOccurred())
			Expect(healthy).To(BeFalse())
			Expect(changed).To(BeFalse())

			s, _ := reg.Get("Server1")
			Expect(s.Healthy).To(BeFalse())
		})

		It("should apply probe results to running servers", func() {
			Expect(reg.SetState("Server1", true, false)).To(Succeed())

			healthy, changed, err := reg.ReportProbe("Server1", true)
			Expect(err).NotTo(HaveOccurred())
			Expect(healthy).To(BeTrue())
			Expect(changed).To(BeTrue())

			healthy, changed, err = reg.ReportProbe("Server1", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(healthy).To(BeFalse())
			Expect(changed).To(BeTrue())
		})

		It("should report the health applied against the current running flag", func() {
			Expect(reg.SetState("Server1", false, false)).To(Succeed())
			before, _ := reg.Get("Server1")
			Expect(before.Running).To(BeFalse())

			Expect(reg.SetState("Server1", true, false)).To(Succeed())

			healthy, changed, err := reg.ReportProbe(before.ID, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(healthy).To(BeTrue())
			Expect(changed).To(BeTrue())
		})

		It("should set both flags with SetState", func() {
			Expect(reg.SetState("Server2", true, false)).To(Succeed())
			s, _ := reg.Get("Server2")
			Expect(s.Running).To(BeTrue())
			Expect(s.Healthy).To(BeFalse())
		})

		It("should flip health with ToggleHealthy", func() {
			healthy, err := reg.ToggleHealthy("Server3")
			Expect(err).NotTo(HaveOccurred())
			Expect(healthy).To(BeFalse())

			healthy, _ = reg.ToggleHealthy("Server3")
			Expect(healthy).To(BeTrue())
		})

		It("should fail for unknown ids", func() {
			_, err := reg.SetHealthy("Server9", true)
			Expect(errors.Is(err, errs.ErrServerNotFound)).To(BeTrue())
			_, err = reg.SetRunning("Server9", true)
			Expect(errors.Is(err, errs.ErrServerNotFound)).To(BeTrue())
		})

		It("should be thread-safe", func() {
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, _ = reg.SetHealthy("Server1", i%2 == 0)
					_, _ = reg.SetWeight("Server2", i)
					_ = reg.List()
				}(i)
			}
			wg.Wait()
		})
	})
})

func mustParseURL(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return u
}
