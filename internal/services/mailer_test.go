package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/storefront/internal/settings"
)

func TestRenderEmailTemplates(t *testing.T) {
	order := sampleOrder()
	order.TrackingNumber = "TRK-99"
	data := newEmailData(settings.Defaults(), order)
	data.Reason = "comprobante <inválido>"

	tests := []struct {
		template string
		contains []string
	}{
		{TemplateOrderReceived, []string{order.OrderNumber, "Scarf", "100.00 PEN"}},
		{TemplatePaymentConfirmed, []string{order.OrderNumber}},
		{TemplatePaymentRejected, []string{"comprobante &lt;inválido&gt;"}},
		{TemplateOrderShipped, []string{"TRK-99"}},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			body, err := RenderEmail(tt.template, data)
			require.NoError(t, err)
			assert.Contains(t, body, "Hi Ana")
			for _, want := range tt.contains {
				assert.Contains(t, body, want)
			}
		})
	}
}

func TestRenderEmailUnknownTemplate(t *testing.T) {
	_, err := RenderEmail("missing.html", EmailData{})
	assert.Error(t, err)
}
