package fetch

// Status reports whether a URL produced usable content.
type Status string

// Result status values.
const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// FetcherTag identifies which tier and extractor produced a result.
type FetcherTag string

// Fetcher tags reported on results.
const (
	FetcherBrowser                FetcherTag = "browser"
	FetcherTLSClient              FetcherTag = "tls_client"
	FetcherTLSClientRegexFallback FetcherTag = "tls_client_regex_fallback"
	FetcherArchive                FetcherTag = "archive"
	FetcherArchiveRegexFallback   FetcherTag = "archive_regex_fallback"
	FetcherArchiveCached          FetcherTag = "archive_cached"
)

// Tier names used in logs, metrics, and aggregated error messages.
const (
	TierBrowser     = "browser"
	TierLightweight = "tls_client"
	TierArchive     = "archive"
)

// Result is the per-URL outcome returned to callers.
type Result struct {
	URL           string     `json:"url"`
	RedirectedURL string     `json:"redirected_url,omitempty"`
	Title         string     `json:"title,omitempty"`
	Status        Status     `json:"status"`
	StatusCode    int        `json:"status_code,omitempty"`
	Content       string     `json:"content,omitempty"`
	Fetcher       FetcherTag `json:"fetcher,omitempty"`
	Error         string     `json:"error,omitempty"`
	IsSoftBlock   bool       `json:"is_soft_block,omitempty"`
	ArchiveURL    string     `json:"archive_url,omitempty"`
}

// Batch is the full response for one Fetch call.
type Batch struct {
	Results        []Result       `json:"results"`
	ResourceBudget map[string]any `json:"resource_budget_snapshot"`
}

// OutcomeKind tags the variant carried by an Outcome.
type OutcomeKind int

// Outcome variants produced by tiers.
const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeBlocked
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeBlocked:
		return "blocked"
	default:
		return "failed"
	}
}

// Outcome is what a single tier returns for a single URL.
type Outcome struct {
	Kind   OutcomeKind
	Result Result
	Err    error
}

// Succeeded wraps a successful result.
func Succeeded(result Result) Outcome {
	result.Status = StatusSuccess
	result.Error = ""
	return Outcome{Kind: OutcomeSuccess, Result: result}
}

// Blocked reports a soft or hard block detected by a tier.
func Blocked(result Result, err error) Outcome {
	if err == nil {
		err = ErrSoftBlock
	}
	result.Status = StatusFailure
	result.Error = err.Error()
	return Outcome{Kind: OutcomeBlocked, Result: result, Err: err}
}

// Failed reports a non-block failure.
func Failed(result Result, err error) Outcome {
	result.Status = StatusFailure
	if err != nil {
		result.Error = err.Error()
	}
	return Outcome{Kind: OutcomeFailed, Result: result, Err: err}
}

// SignalsBlock reports whether the outcome should route the URL to the archive tier.
func (o Outcome) SignalsBlock() bool {
	if o.Kind == OutcomeBlocked {
		return true
	}
	return IsBlockStatus(o.Result.StatusCode)
}
