package store_test

import (
	"context"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/poolgate/internal/account"
	"github.com/angeloszaimis/poolgate/internal/store"
)

var _ = Describe("Import", func() {
	var (
		st  *store.Memory
		ctx context.Context
	)

	BeforeEach(func() {
		st = store.NewMemory()
		ctx = context.Background()
	})

	It("should import successful registrations from a JSON array", func() {
		input := `[
			{"success": true, "username": "alice", "email": "alice@tmpmail.net", "password": "pw", "api_key": "sk-alice", "base_url": "https://api.apipod.ai/v1", "created_at": "2025-01-02T03:04:05.123456"},
			{"success": false, "username": "bob", "email": "bob@tmpmail.net"},
			{"success": true, "username": "carol", "email": "carol@tmpmail.net", "api_key": ""}
		]`

		n, err := store.Import(ctx, st, strings.NewReader(input))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		acc, err := st.Get(ctx, "alice@tmpmail.net")
		Expect(err).NotTo(HaveOccurred())
		Expect(acc.APIKey).To(Equal("sk-alice"))
		Expect(acc.Username).To(Equal("alice"))
		Expect(acc.Status).To(Equal(account.StatusActive))
		Expect(acc.CreatedAt.Year()).To(Equal(2025))
	})

	It("should import the admin payload shape", func() {
		input := `{"accounts": [{"email": "dave@tmpmail.net", "api_key": "sk-dave"}]}`

		n, err := store.Import(ctx, st, strings.NewReader(input))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		_, err = st.Get(ctx, "dave@tmpmail.net")
		Expect(err).NotTo(HaveOccurred())
	})

	It("should fall back to the username as id", func() {
		n, err := store.ImportRegistrations(ctx, st, []store.Registration{{Username: "erin", APIKey: "sk-erin"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		_, err = st.Get(ctx, "erin")
		Expect(err).NotTo(HaveOccurred())
	})

	It("should fail on malformed input", func() {
		_, err := store.Import(ctx, st, strings.NewReader("not json"))
		Expect(err).To(HaveOccurred())
	})
})
