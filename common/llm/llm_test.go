package llm_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lifeboard.app/core/common/llm"
)

var _ = Describe("New", func() {
	It("requires an API key", func() {
		_, err := llm.New(llm.Config{Provider: llm.ProviderOpenAI})
		Expect(err).To(MatchError(ContainSubstring("API key")))
	})

	It("rejects unknown providers", func() {
		_, err := llm.New(llm.Config{Provider: "cohere", APIKey: "k"})
		Expect(err).To(MatchError(ContainSubstring("unsupported LLM provider")))
	})

	DescribeTable("selects the configured provider",
		func(provider string) {
			client, err := llm.New(llm.Config{Provider: provider, APIKey: "k"})
			Expect(err).NotTo(HaveOccurred())
			Expect(client).NotTo(BeNil())
		},
		Entry("openai", llm.ProviderOpenAI),
		Entry("anthropic", llm.ProviderAnthropic),
		Entry("default", ""),
	)
})

var _ = Describe("GenerateSchema", func() {
	type interpretation struct {
		PrimaryEvent string   `json:"primary_event"`
		EventTypes   []string `json:"proposed_event_types"`
	}

	It("reflects a strict inline schema", func() {
		schema := llm.GenerateSchema[interpretation]()

		raw, err := json.Marshal(schema)
		Expect(err).NotTo(HaveOccurred())

		var flat map[string]any
		Expect(json.Unmarshal(raw, &flat)).To(Succeed())
		Expect(flat).To(HaveKey("properties"))
		Expect(flat["additionalProperties"]).To(Equal(false))

		props := flat["properties"].(map[string]any)
		Expect(props).To(HaveKey("primary_event"))
		Expect(props).To(HaveKey("proposed_event_types"))
	})
})

var _ = Describe("Temp", func() {
	It("returns a pointer to the given temperature", func() {
		t := llm.Temp(0.2)
		Expect(t).NotTo(BeNil())
		Expect(*t).To(Equal(0.2))
	})
})
