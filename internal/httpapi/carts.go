package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"vendify/internal/cart"
	"vendify/internal/checkout"
	"vendify/internal/domain"
)

// terminalCart is what the cart routes need from either cart kind.
type terminalCart interface {
	checkout.Cart
	checkout.Holdable
	AddLine(itemID string) error
	AddManualLine(name string, price float64, qty int) error
	SetQuantity(index int, qty int) error
	RemoveLine(index int) error
	SetDiscount(value float64, kind string) error
	SetPaymentMethod(method string) error
	View() cart.View
}

type addLineRequest struct {
	ItemID string `json:"itemId"`
}

type manualLineRequest struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

type modifierRequest struct {
	Value float64 `json:"value"`
	Type  string  `json:"type"`
}

type paymentRequest struct {
	Method string `json:"method"`
}

type holdRequest struct {
	Note string `json:"note"`
}

type customerRequest struct {
	CustomerID string `json:"customerId"`
}

type creditTermRequest struct {
	Term string `json:"term"`
}

func (a *API) cartRoutes(r chi.Router, c terminalCart) {
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, c.View())
	})
	r.Delete("/", func(w http.ResponseWriter, req *http.Request) {
		a.respondCart(w, c, c.Clear())
	})
	r.Post("/lines", func(w http.ResponseWriter, req *http.Request) {
		var body addLineRequest
		if err := decodeJSON(req, &body); err != nil {
			a.writeError(w, err)
			return
		}
		a.respondCart(w, c, c.AddLine(body.ItemID))
	})
	r.Post("/lines/manual", func(w http.ResponseWriter, req *http.Request) {
		var body manualLineRequest
		if err := decodeJSON(req, &body); err != nil {
			a.writeError(w, err)
			return
		}
		a.respondCart(w, c, c.AddManualLine(body.Name, body.Price, body.Quantity))
	})
	r.Put("/lines/{index}", func(w http.ResponseWriter, req *http.Request) {
		index, err := lineIndex(req)
		if err != nil {
			a.writeError(w, err)
			return
		}
		var body quantityRequest
		if err := decodeJSON(req, &body); err != nil {
			a.writeError(w, err)
			return
		}
		a.respondCart(w, c, c.SetQuantity(index, body.Quantity))
	})
	r.Delete("/lines/{index}", func(w http.ResponseWriter, req *http.Request) {
		index, err := lineIndex(req)
		if err != nil {
			a.writeError(w, err)
			return
		}
		a.respondCart(w, c, c.RemoveLine(index))
	})
	r.Put("/discount", func(w http.ResponseWriter, req *http.Request) {
		var body modifierRequest
		if err := decodeJSON(req, &body); err != nil {
			a.writeError(w, err)
			return
		}
		a.respondCart(w, c, c.SetDiscount(body.Value, body.Type))
	})
	r.Put("/payment-method", func(w http.ResponseWriter, req *http.Request) {
		var body paymentRequest
		if err := decodeJSON(req, &body); err != nil {
			a.writeError(w, err)
			return
		}
		a.respondCart(w, c, c.SetPaymentMethod(body.Method))
	})
	r.Post("/complete", func(w http.ResponseWriter, req *http.Request) {
		result, err := a.Checkout.Complete(req.Context(), c)
		if err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	})
	r.Post("/hold", func(w http.ResponseWriter, req *http.Request) {
		var body holdRequest
		if err := decodeJSON(req, &body); err != nil {
			a.writeError(w, err)
			return
		}
		held, err := a.Checkout.HoldSale(req.Context(), c, body.Note)
		if err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, held)
	})
}

func (a *API) respondCart(w http.ResponseWriter, c terminalCart, err error) {
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

func lineIndex(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid line index %q", domain.ErrValidation, raw)
	}
	return index, nil
}

func (a *API) handleSetTax(w http.ResponseWriter, r *http.Request) {
	var body modifierRequest
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	a.respondCart(w, a.SaleCart, a.SaleCart.SetTax(body.Value, body.Type))
}

func (a *API) handleSetCustomer(w http.ResponseWriter, r *http.Request) {
	var body customerRequest
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	customer, err := a.Gateway.Customers().Get(r.Context(), body.CustomerID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.respondCart(w, a.WholesaleCart, a.WholesaleCart.SetCustomer(customer))
}

func (a *API) handleSetCreditTerm(w http.ResponseWriter, r *http.Request) {
	var body creditTermRequest
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	a.respondCart(w, a.WholesaleCart, a.WholesaleCart.SetCreditTerm(body.Term))
}

func (a *API) handleCreateQuote(w http.ResponseWriter, r *http.Request) {
	q, err := a.Checkout.CreateQuote(r.Context(), a.WholesaleCart)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (a *API) handleListHeldSales(w http.ResponseWriter, r *http.Request) {
	scope, err := a.scope(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	held := a.Checkout.ListHeldSales(r.Context(), scope, r.URL.Query().Get("type"))
	writeJSON(w, http.StatusOK, map[string]any{"heldSales": held})
}

// handleResumeHeldSale loads the parked sale into the cart of its kind.
func (a *API) handleResumeHeldSale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	held, err := a.Gateway.HeldSales().Get(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	var target terminalCart = a.SaleCart
	if held.Type == domain.SaleTypeB2B {
		target = a.WholesaleCart
	}
	if _, err := a.Checkout.ResumeHeldSale(r.Context(), target, id); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, target.View())
}

func (a *API) handleDiscardHeldSale(w http.ResponseWriter, r *http.Request) {
	scope, err := a.scope(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.Checkout.DiscardHeldSale(r.Context(), scope, chi.URLParam(r, "id")); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleListQuotes(w http.ResponseWriter, r *http.Request) {
	scope, err := a.scope(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotes": a.Checkout.ListQuotes(r.Context(), scope)})
}
