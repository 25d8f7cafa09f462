package convo

// prompts.go defines the scripted steering instructions handed to the
// dialogue completion service.  Each stage of the flow supplies one of
// these directives along with the message history; the service only
// phrases the utterance, it never decides what to ask next.

const (
	// SystemInstruction frames every completion request.
	SystemInstruction = "You are the friendly virtual front desk assistant for a medical clinic. " +
		"Reply in plain, warm English with at most two short sentences. " +
		"Ask only for what the instruction below tells you to ask. " +
		"Never give medical advice or a diagnosis."

	// GreetingMessage opens every new session without a round trip to
	// the dialogue service.
	GreetingMessage = "Hello! Welcome to the clinic's virtual front desk. How can I help you today?"

	// GoodbyeMessage closes a conversation.
	GoodbyeMessage = "Thank you for calling. Take care, goodbye!"

	// CallPlacedMessage acknowledges turns arriving after the booking
	// call has been placed; no further collection happens.
	CallPlacedMessage = "Your booking call has already been placed. The clinic will be in touch shortly."

	directiveAskRegistered = "Ask the caller whether they are already registered with the clinic as a patient."

	directiveAskLookupPhone = "Ask the caller for the phone number their patient record is registered under."

	directiveRepeatPhone = "You could not recognize a phone number in the caller's reply. Ask again, politely, for the phone number digits."

	directivePatientFound = "Tell the caller you found their record and greet them by first name: %s. Ask whether they would like to book an appointment."

	directivePatientNotFound = "Tell the caller no record was found under that number, so you will register them now. Ask for their first name."

	directiveAskField = "Ask the caller for their %s. Mention the words \"%s\" explicitly."

	directiveRegistered = "Tell the caller their patient record has been created. Ask whether they would like to book an appointment."

	directiveCreateFailed = "Apologize: the patient record could not be created right now. Tell the caller the front desk staff will complete it and they can continue."

	directiveAskWhoFor = "Ask whether the appointment is for the caller themselves or for someone else, such as a family member."

	directiveAskFamilyDetails = "Ask who the appointment is for and how that person is related to the caller."

	directiveAskDoctor = "Ask which doctor the caller would like to see."

	directiveAskDate = "Ask what date the caller would like for the appointment."

	directiveAskTime = "Ask what time of day works for the appointment."

	directiveAskReason = "Ask briefly for the reason for the visit."

	directiveConfirm = "Summarize the booking - doctor %s, on %s at %s, reason: %s - and ask the caller to confirm before you place the booking call."

	directiveCallPlaced = "Tell the caller the booking call to the clinic has been placed and they will hear back soon."

	directiveCallFailed = "Apologize: the booking call could not be placed just now. Ask the caller to say yes again to retry."

	directiveRouteMissing = "Apologize: the clinic's booking line is not reachable right now. Ask the caller to try again later."

	directiveOfferBooking = "Ask the caller whether there is anything else you can do, for example booking an appointment."

	directiveClarifyConfirm = "Ask the caller to answer yes to place the booking call, or no to change a detail."

	directiveChangeDetail = "Ask which detail of the booking the caller would like to change."
)
