package agent

// checkFinishGuard is the single correctness invariant of the engine: no
// branch may conclude before the intent's required tool has actually run in
// its lineage. Returns a rejection reason for a blocked finish step, or ""
// when the step is not a finish or the guard is satisfied.
func checkFinishGuard(intent Intent, didDetails, didService bool, st Step) string {
	if st.Tool != toolFinish {
		return ""
	}
	if intent == IntentAction && !didService {
		return "For ACTION, you must call service_call_tool before finishing."
	}
	if intent == IntentStatus && !didDetails {
		return "For STATUS, you must call get_entities_details_tool before finishing."
	}
	return ""
}
