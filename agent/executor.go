package agent

import (
	"context"
	"fmt"
)

const (
	candidateTopK = 6
	detailTopK    = 3
)

// executeStep runs exactly one candidate step against the backend and folds
// the result into a fresh child branch. Returns (child, finishText): a
// non-empty finishText means the step was an accepted finish and the search
// must return it; otherwise child is the spawned branch (possibly annotated
// with a guard note or error instead of an observation).
//
// Backend failures never abort the search: the child survives with an error
// annotation and without the completion flag it was trying to earn, so it
// can never satisfy a guard and the scorer deprioritizes it naturally.
func (e *Engine) executeStep(ctx context.Context, rs *runState, userText string, intent Intent, node *Branch, depth int, st Step) (*Branch, string) {
	child := node.child(depth)

	switch st.Tool {
	case toolAskUser:
		msg := st.Message
		if msg == "" {
			msg = st.Args.Message
		}
		if msg == "" {
			msg = clarifyFallback
		}
		child.LastObs = &Observation{AskUser: msg}
		child.append("ASK:" + msg)
		return child, ""

	case toolFinish:
		// Guard already passed upstream.
		final := Sanitize(st.Final)
		if final == "" {
			final = "Done."
		}
		return nil, final

	case toolListDomain:
		return e.execListDomain(ctx, rs, userText, intent, child, st), ""

	case toolGetDetails:
		return e.execGetDetails(ctx, rs, child, st), ""

	case toolCallService:
		return e.execCallService(ctx, rs, userText, intent, node, child, st), ""

	default:
		e.logger.Debug("planner proposed unknown tool", "tool", st.Tool)
		return nil, ""
	}
}

func (e *Engine) execListDomain(ctx context.Context, rs *runState, userText string, intent Intent, child *Branch, st Step) *Branch {
	domain := st.Args.Domain
	// No domain from the planner: try likely ones in order, keep the first
	// that yields entities.
	domainsToTry := []string{domain}
	if domain == "" {
		domainsToTry = LikelyDomains(userText, intent)
	}

	var obs *Observation
	for _, d := range domainsToTry {
		entities, err := e.listEntities(ctx, rs, d)
		if err != nil {
			child.append(fmt.Sprintf("ERROR:get_entities_by_domain_tool(%q): %v", d, err))
			return child
		}
		if len(entities) > 0 || d == domain {
			domain = d
			obs = summarizeEntities(entities, userText, candidateTopK)
			break
		}
	}
	if obs == nil {
		obs = &Observation{Candidates: []EntityCandidate{}, Count: 0}
	}
	child.LastObs = obs
	child.append(
		fmt.Sprintf("ACTION:get_entities_by_domain_tool(%q)", domain),
		"OBS:"+obs.Text(),
	)
	return child
}

func (e *Engine) execGetDetails(ctx context.Context, rs *runState, child *Branch, st Step) *Branch {
	details, err := e.getDetails(ctx, rs, st.Args.EntityIDs)
	if err != nil {
		child.append(fmt.Sprintf("ERROR:get_entities_details_tool(%v): %v", st.Args.EntityIDs, err))
		return child
	}
	obs := summarizeDetails(details, detailTopK)
	child.LastObs = obs
	child.DidDetails = true
	child.append(
		fmt.Sprintf("ACTION:get_entities_details_tool(%v)", st.Args.EntityIDs),
		"OBS:"+obs.Text(),
	)
	return child
}

// execCallService performs the robust resolution policy before any
// side-effecting call: fill in a missing domain from likely domains, resolve
// an unknown or missing entity id against the freshest candidate list, infer
// a missing service from the implied polarity — and when any of that fails,
// degrade to a listing or ask-user observation instead of calling with
// guessed parameters.
func (e *Engine) execCallService(ctx context.Context, rs *runState, userText string, intent Intent, node, child *Branch, st Step) *Branch {
	domain := st.Args.Domain
	if domain == "" {
		for _, d := range LikelyDomains(userText, intent) {
			entities, err := e.listEntities(ctx, rs, d)
			if err != nil {
				continue
			}
			if len(entities) > 0 {
				domain = d
				child.LastObs = summarizeEntities(entities, userText, candidateTopK)
				break
			}
		}
	}

	// Gather candidates to resolve against: this child's observation first,
	// then the parent's, then a fresh listing.
	var candidates []EntityCandidate
	switch {
	case child.LastObs != nil && len(child.LastObs.Candidates) > 0:
		candidates = child.LastObs.Candidates
	case node.LastObs != nil && len(node.LastObs.Candidates) > 0:
		candidates = node.LastObs.Candidates
	default:
		entities, err := e.listEntities(ctx, rs, domain)
		if err != nil {
			child.append(fmt.Sprintf("ERROR:get_entities_by_domain_tool(%q): %v", domain, err))
			return child
		}
		child.LastObs = summarizeEntities(entities, userText, candidateTopK)
		candidates = child.LastObs.Candidates
	}

	resolvedID := st.Args.EntityID
	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.EntityID] = true
	}
	if resolvedID == "" || !known[resolvedID] {
		resolvedID = BestEntity(userText, candidates)
	}

	// Still unresolved: do not act. Replace the step with a listing so the
	// next round has candidates to resolve against.
	if resolvedID == "" {
		child.append("GUARD:entity_id unclear; listing candidates first.")
		entities, err := e.listEntities(ctx, rs, domain)
		if err != nil {
			child.append(fmt.Sprintf("ERROR:get_entities_by_domain_tool(%q): %v", domain, err))
			return child
		}
		obs := summarizeEntities(entities, userText, candidateTopK)
		child.LastObs = obs
		child.append(
			fmt.Sprintf("ACTION:get_entities_by_domain_tool(%q)", domain),
			"OBS:"+obs.Text(),
		)
		return child
	}

	service := st.Args.Service
	if service == "" {
		switch ExpectedPolarity(userText) {
		case "on":
			service = "turn_on"
		case "off":
			service = "turn_off"
		}
	}

	if domain == "" || service == "" {
		msg := "Which device and action exactly?"
		child.LastObs = &Observation{AskUser: msg}
		child.append("ASK:" + msg)
		return child
	}

	if err := e.callService(ctx, rs, domain, service, resolvedID, st.Args.Data); err != nil {
		child.append(fmt.Sprintf("ERROR:service_call_tool(%s,%s,%s): %v", domain, service, resolvedID, err))
		return child
	}
	obs := &Observation{ServiceDone: true, Domain: domain, Service: service, EntityID: resolvedID}
	child.LastObs = obs
	child.DidService = true
	child.append(
		fmt.Sprintf("ACTION:service_call_tool(%s,%s,%s)", domain, service, resolvedID),
		"OBS:"+obs.Text(),
	)
	return child
}
