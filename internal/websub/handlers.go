package websub

import (
	"context"
	"encoding/json"
	"net/http"
)

// SubscribeHandler implements POST /websub: dispatches on hub.mode and
// returns 202 immediately, running the validation workflow in the
// background (section 4.5: "Subscribe workflow (background task, returns
// 202 immediately)").
func (h *Hub) SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeWebsubError(w, http.StatusBadRequest, "invalid form encoding")
		return
	}
	req := ParseSubscribeRequest(r.Form)
	if req.Topic == "" || req.Callback == "" {
		writeWebsubError(w, http.StatusBadRequest, "hub.topic and hub.callback are required")
		return
	}
	if !h.acceptsTopic(req.Topic) {
		writeWebsubError(w, http.StatusBadRequest, "hub.topic is outside this hub's scope")
		return
	}

	switch r.FormValue("hub.mode") {
	case "subscribe":
		go h.Subscribe(context.Background(), req)
	case "unsubscribe":
		go h.Unsubscribe(context.Background(), req)
	default:
		writeWebsubError(w, http.StatusBadRequest, "hub.mode must be subscribe or unsubscribe")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// PublishHandler implements POST /websub/publish: one or more hub.url /
// hub.url[] entries, 202 immediately with the fanout running in the
// background (section 4.5 "Publish workflow").
func (h *Hub) PublishHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeWebsubError(w, http.StatusBadRequest, "invalid form encoding")
		return
	}
	urls := append([]string{}, r.Form["hub.url"]...)
	urls = append(urls, r.Form["hub.url[]"]...)
	if len(urls) == 0 {
		writeWebsubError(w, http.StatusBadRequest, "hub.url is required")
		return
	}

	go h.Publish(context.Background(), urls)
	w.WriteHeader(http.StatusAccepted)
}

func writeWebsubError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{message})
}
