package sync

// Error codes the engine itself records. Everything else in the errors
// map is a wire code taken verbatim from the remote batch response.
const (
	// CodeMissingRemoteRoute means the remote has no batch endpoint for
	// the entity kind. It applies to the whole tick, not per item.
	CodeMissingRemoteRoute = "missing-remote-route"

	// CodeTransportFailure means the batch request itself failed or
	// returned a status neither protocol defines. The chunk stays
	// queued and is retried on the next trigger fire.
	CodeTransportFailure = "transport-failure"
)

// Wire codes the remote sends that notices render with dedicated
// operator messages.
const (
	// CodeStaleRemoteReference: the linked remote document was deleted
	// manually on the other site.
	CodeStaleRemoteReference = "rest_post_invalid_id"

	// CodeStaleRemoteProduct: the linked remote product was deleted
	// manually on the other site.
	CodeStaleRemoteProduct = "woocommerce_rest_product_invalid_id"

	// CodeStaleRemoteAsset: a linked remote image was deleted manually.
	CodeStaleRemoteAsset = "woocommerce_product_invalid_image_id"

	// CodeDuplicateSKU: the remote rejected a product over its unique
	// SKU constraint.
	CodeDuplicateSKU = "product_invalid_sku"
)

// Outcome is the reconciled result of one tick's batch request.
type Outcome struct {
	// Submitted is how many entities made it into the batch request.
	// Selected ids whose entity could not be loaded are not counted.
	Submitted int

	// Linked is how many items came back with a remote id (created or
	// confirmed updated).
	Linked int

	// Errors maps error code to occurrence count for this tick only.
	Errors map[string]int

	// RouteMissing is set when the whole tick failed with the
	// missing-remote-route sentinel.
	RouteMissing bool
}

func (o *Outcome) addError(code string) {
	if o.Errors == nil {
		o.Errors = make(map[string]int)
	}
	o.Errors[code]++
}
