package auth_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lissto-dev/imagecache/pkg/auth"
)

var _ = Describe("Role", func() {
	DescribeTable("parses names",
		func(name string, want auth.Role) {
			Expect(auth.ParseRole(name)).To(Equal(want))
		},
		Entry("admin", "admin", auth.Admin),
		Entry("editor", "editor", auth.Editor),
		Entry("user", "user", auth.User),
		Entry("unknown falls back to user", "root", auth.User),
	)

	It("round-trips through String", func() {
		for _, r := range []auth.Role{auth.User, auth.Editor, auth.Admin} {
			Expect(auth.ParseRole(r.String())).To(Equal(r))
		}
		Expect(auth.Role(42).String()).To(Equal("unknown"))
	})

	It("validates names", func() {
		Expect(auth.Valid("editor")).To(BeTrue())
		Expect(auth.Valid("developer")).To(BeFalse())
	})

	It("orders privileges", func() {
		Expect(auth.Admin.HasPermission(auth.Editor)).To(BeTrue())
		Expect(auth.Editor.HasPermission(auth.Editor)).To(BeTrue())
		Expect(auth.Editor.HasPermission(auth.Admin)).To(BeFalse())
		Expect(auth.User.HasPermission(auth.Editor)).To(BeFalse())
	})
})
